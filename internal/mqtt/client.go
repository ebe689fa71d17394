package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.mqtt.golang"

	"github.com/chemviz/equipment-monitor/internal/models"
)

// telemetryPayload is the wire format published on equipment/<name>/telemetry.
type telemetryPayload struct {
	EquipmentType string  `json:"equipment_type"`
	Flowrate      float64 `json:"flowrate"`
	Pressure      float64 `json:"pressure"`
	Temperature   float64 `json:"temperature"`
	Timestamp     string  `json:"timestamp"` // RFC3339, optional
}

// Client subscribes to the telemetry feed and buffers the latest reading per
// equipment unit until the next sweep drains the buffer into a batch.
type Client struct {
	client  mqtt.Client
	latest  sync.Map // equipment name -> models.Reading
	pending sync.Map // equipment name -> models.Reading, cleared on drain
}

// NewClient creates and connects the MQTT client.
func NewClient(broker, clientID, username, password string) (*Client, error) {
	c := &Client{}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetDefaultPublishHandler(c.messageHandler)
	opts.OnConnect = c.connectHandler
	opts.OnConnectionLost = c.connectionLostHandler

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.client = client
	return c, nil
}

func (c *Client) connectHandler(client mqtt.Client) {
	log.Println("[INFO] Connected to MQTT broker")
	if token := client.Subscribe("equipment/+/telemetry", 1, nil); token.Wait() && token.Error() != nil {
		log.Printf("[ERROR] Failed to subscribe to telemetry feed: %v", token.Error())
		return
	}
	log.Println("[INFO] Subscribed to equipment telemetry feed")
}

func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Printf("[WARN] Connection to MQTT broker lost: %v", err)
}

// messageHandler parses one telemetry message. Malformed payloads are
// dropped with a log line; they never reach the engine.
func (c *Client) messageHandler(client mqtt.Client, msg mqtt.Message) {
	topicParts := strings.Split(msg.Topic(), "/")
	if len(topicParts) != 3 || topicParts[0] != "equipment" || topicParts[2] != "telemetry" {
		log.Printf("[WARN] Ignoring message from unexpected topic: %s", msg.Topic())
		return
	}
	equipmentName := topicParts[1]
	if equipmentName == "" {
		log.Printf("[WARN] Ignoring telemetry with empty equipment name on topic %s", msg.Topic())
		return
	}

	var payload telemetryPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("[WARN] Dropping malformed telemetry for %s: %v", equipmentName, err)
		return
	}

	recordedAt := time.Now()
	if payload.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			recordedAt = parsed
		} else {
			log.Printf("[WARN] Invalid timestamp in telemetry for %s, using receive time: %v", equipmentName, err)
		}
	}

	reading := models.Reading{
		EquipmentName: equipmentName,
		EquipmentType: payload.EquipmentType,
		Flowrate:      payload.Flowrate,
		Pressure:      payload.Pressure,
		Temperature:   payload.Temperature,
		RecordedAt:    recordedAt,
	}

	c.latest.Store(equipmentName, reading)
	c.pending.Store(equipmentName, reading)
}

// Latest returns the most recent reading seen for an equipment unit.
func (c *Client) Latest(equipmentName string) (models.Reading, bool) {
	value, ok := c.latest.Load(equipmentName)
	if !ok {
		return models.Reading{}, false
	}
	return value.(models.Reading), true
}

// Drain returns the readings accumulated since the last drain and clears
// the buffer. The sweep records the result as one ingestion batch.
func (c *Client) Drain() []models.Reading {
	var readings []models.Reading
	c.pending.Range(func(key, value any) bool {
		readings = append(readings, value.(models.Reading))
		c.pending.Delete(key)
		return true
	})
	return readings
}

// Close disconnects the MQTT client.
func (c *Client) Close() {
	if c != nil && c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}
