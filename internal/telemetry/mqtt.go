// Package telemetry publishes poll results to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/bzfquery/bzfquery/internal/config"
	"github.com/bzfquery/bzfquery/internal/events"
	"github.com/bzfquery/bzfquery/internal/util"
)

// Topic kinds, appended to the configured prefix.
const (
	TopicSnapshot = "snapshot"
	TopicFailure  = "failure"
	TopicStatus   = "status"
)

// MQTTHandler forwards poll events to the broker.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// send delivers one encoded message; replaced in tests.
	send func(topic string, data []byte)

	// Metadata included in every message
	metadata map[string]interface{}

	shutdownSent atomic.Bool
}

// NewMQTTHandler creates a handler from the mqtt section of cfg.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.MQTT
	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      mqttCfg,
		eventBus: eventBus,
		logger:   util.ComponentLogger("mqtt"),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"app_version": util.Version,
		},
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("bzfquery-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if mqttCfg.UseTLS {
		tlsConfig, err := buildTLSConfig(mqttCfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	h.send = h.publishToBroker

	return h, nil
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Start connects, forwards events until ctx is cancelled, then publishes
// a shutdown status and disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Subscribe()
	h.publish(h.Topic(TopicStatus, ""), map[string]interface{}{"event": "online"})

	<-ctx.Done()

	h.PublishShutdown("stopped")
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

// Subscribe registers the event handlers that publish poll results.
func (h *MQTTHandler) Subscribe() {
	h.eventBus.Subscribe(events.EventSnapshotCollected, "mqtt.snapshot", h.onSnapshot)
	h.eventBus.Subscribe(events.EventQueryFailed, "mqtt.failure", h.onQueryFailed)
	h.eventBus.Subscribe(events.EventShutdown, "mqtt.shutdown", h.onShutdown)
}

// Topic returns prefix/kind/server, or prefix/kind when server is empty.
// MQTT wildcard and separator characters in server are replaced.
func (h *MQTTHandler) Topic(kind, server string) string {
	prefix := strings.TrimSuffix(h.cfg.TopicPrefix, "/")
	if server == "" {
		return prefix + "/" + kind
	}
	return prefix + "/" + kind + "/" + topicSafe.Replace(server)
}

var topicSafe = strings.NewReplacer("/", "_", "+", "_", "#", "_")

func (h *MQTTHandler) publish(topic string, payload interface{}) {
	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}
	h.send(topic, data)
}

func (h *MQTTHandler) publishToBroker(topic string, data []byte) {
	if !h.client.IsConnected() {
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onSnapshot(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SnapshotPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	h.publish(h.Topic(TopicSnapshot, p.Server), p.Snapshot)
	return nil
}

func (h *MQTTHandler) onQueryFailed(ctx context.Context, event events.Event) error {
	p, ok := event.Payload.(events.QueryFailedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	h.publish(h.Topic(TopicFailure, p.Server), map[string]interface{}{
		"address":   p.Address,
		"stage":     p.Stage,
		"error":     p.Error,
		"failed_at": p.FailedAt.Format(time.RFC3339),
	})
	return nil
}

func (h *MQTTHandler) onShutdown(ctx context.Context, event events.Event) error {
	reason := ""
	if p, ok := event.Payload.(events.ShutdownPayload); ok {
		reason = p.Reason
	}
	h.PublishShutdown(reason)
	return nil
}

// PublishShutdown sends an offline status message. Only the first call
// publishes.
func (h *MQTTHandler) PublishShutdown(reason string) {
	if !h.shutdownSent.CompareAndSwap(false, true) {
		return
	}
	h.publish(h.Topic(TopicStatus, ""), map[string]interface{}{
		"event":  "shutdown",
		"reason": reason,
	})
}
