package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"iot-telemetry-backend/internal/broadcast"
	"iot-telemetry-backend/internal/model"
	"iot-telemetry-backend/internal/view"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrQueueFull is returned by Publish when the job was dropped.
var ErrQueueFull = errors.New("notification queue full")

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Job is one broadcast waiting to be pushed to every subscriber.
type Job struct {
	Topic   string
	Payload []byte
}

// WorkerPool manages a pool of workers for sending notifications.
type WorkerPool struct {
	size    int
	jobs    chan Job
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	logger  *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size, queueSize int, db *gorm.DB, webpushOptions *webpush.Options, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Job, queueSize),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.logger.Debug("notification worker started", zap.Int("worker", id))
	for {
		select {
		case job := <-wp.jobs:
			wp.sendToSubscribers(ctx, job)
		case <-ctx.Done():
			wp.logger.Debug("notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Publish queues a job without blocking. When the queue is full the job is
// dropped and ErrQueueFull returned.
func (wp *WorkerPool) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case wp.jobs <- Job{Topic: topic, Payload: payload}:
		return nil
	default:
		wp.logger.Warn("notification queue full, dropping job", zap.String("topic", topic))
		return ErrQueueFull
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan Job {
	return wp.jobs
}

// sendToSubscribers fetches every subscription and pushes the job to each.
func (wp *WorkerPool) sendToSubscribers(ctx context.Context, job Job) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		wp.logger.Error("failed to fetch push subscriptions", zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	message := Message(job.Topic, job.Payload)
	wp.logger.Info("sending push notifications",
		zap.String("topic", job.Topic),
		zap.Int("subscriptions", len(subscriptions)),
	)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, message)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.logger.Warn("failed to send push notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		wp.logger.Info("push subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			wp.logger.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}

// Message renders the notification text for a broadcast. Latest-state
// payloads become a relay summary; anything else is sent as is.
func Message(topic string, payload []byte) []byte {
	if topic != broadcast.TopicLatest {
		return payload
	}
	var state view.LatestState
	if err := json.Unmarshal(payload, &state); err != nil {
		return payload
	}
	parts := []string{
		fmt.Sprintf("Arduino relay %s", onOff(state.Arduino.ArduinoRelay)),
		fmt.Sprintf("piezo relay %s", onOff(state.Arduino.PiezoRelay)),
		fmt.Sprintf("NodeMCU relay %s", onOff(state.NodeMCU.NodeMCURelay)),
	}
	return []byte(strings.Join(parts, ", "))
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
