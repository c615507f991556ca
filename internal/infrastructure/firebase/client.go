// Package firebase wraps the Firebase Admin SDK: FCM for push notifications
// and Cloud Storage for uploaded receipt files.
package firebase

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"koffers/internal/shared/logger"
)

const fcmBatchLimit = 500

// NewApp initializes the Firebase app shared by messaging and storage.
func NewApp(ctx context.Context, credentialsFile, storageBucket string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{StorageBucket: storageBucket}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	return app, nil
}

// TokenDeactivator is called to mark an invalid FCM token as inactive.
type TokenDeactivator func(ctx context.Context, token string) error

// multicaster is the subset of *messaging.Client used here.
type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Client implements notification.Messenger using Firebase Cloud Messaging.
type Client struct {
	msg         multicaster
	deactivator TokenDeactivator
	log         *zap.Logger
}

// NewClient returns an FCM client. deactivator may be nil.
func NewClient(ctx context.Context, app *firebase.App, deactivator TokenDeactivator, log *zap.Logger) (*Client, error) {
	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}
	return &Client{msg: msgClient, deactivator: deactivator, log: logger.OrNop(log)}, nil
}

// SendMulticast sends a push notification to multiple device tokens in
// batches of 500, the FCM limit.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}

	var totalSuccess, totalFailure int
	for _, batch := range chunkTokens(tokens, fcmBatchLimit) {
		resp, err := c.msg.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: &messaging.Notification{Title: title, Body: body},
			Data:         data,
		})
		if err != nil {
			return fmt.Errorf("failed to send FCM multicast: %w", err)
		}

		totalSuccess += resp.SuccessCount
		totalFailure += resp.FailureCount
		if resp.FailureCount > 0 {
			c.handleMulticastFailures(ctx, batch, resp)
		}
	}

	c.log.Debug("fcm multicast sent", zap.Int("success", totalSuccess), zap.Int("failure", totalFailure))
	return nil
}

func (c *Client) handleMulticastFailures(ctx context.Context, tokens []string, resp *messaging.BatchResponse) {
	for i, sendResp := range resp.Responses {
		if sendResp.Error == nil {
			continue
		}
		if messaging.IsUnregistered(sendResp.Error) || messaging.IsInvalidArgument(sendResp.Error) {
			c.log.Info("deactivating invalid fcm token", zap.Int("index", i), zap.Error(sendResp.Error))
			c.deactivateToken(ctx, tokens[i])
		} else {
			c.log.Warn("fcm send error", zap.Int("index", i), zap.Error(sendResp.Error))
		}
	}
}

func (c *Client) deactivateToken(ctx context.Context, token string) {
	if c.deactivator == nil {
		return
	}
	if err := c.deactivator(ctx, token); err != nil {
		c.log.Warn("failed to deactivate fcm token", zap.Error(err))
	}
}

func chunkTokens(tokens []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(tokens); i += size {
		end := i + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[i:end])
	}
	return chunks
}
