package util

// Version is the build version, set with -ldflags "-X ...util.Version=...".
var Version = "dev"
