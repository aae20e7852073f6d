package push

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/samber/lo"
	"google.golang.org/api/option"
)

// multicastSender - часть *messaging.Client, которая нужна провайдеру
type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMProvider отправляет через Firebase Cloud Messaging
type FCMProvider struct {
	client      multicastSender
	linkBaseURL string
}

// NewFCMProvider. linkBaseURL - https-origin клиента: FCM принимает в
// webpush.fcm_options.link только абсолютные https-ссылки.
func NewFCMProvider(ctx context.Context, credentialsFile, linkBaseURL string) (*FCMProvider, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &FCMProvider{client: client, linkBaseURL: linkBaseURL}, nil
}

func (p *FCMProvider) SendMulticast(ctx context.Context, payload Payload, tokens []string) (*MulticastResult, error) {
	br, err := p.client.SendEachForMulticast(ctx, p.buildMessage(payload, tokens))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	return &MulticastResult{
		Responses: lo.Map(br.Responses, func(r *messaging.SendResponse, _ int) TokenResponse {
			if r.Success {
				return TokenResponse{Success: true}
			}
			return TokenResponse{Reason: fcmReason(r.Error)}
		}),
	}, nil
}

func (p *FCMProvider) buildMessage(payload Payload, tokens []string) *messaging.MulticastMessage {
	webNotification := &messaging.WebpushNotification{
		Title:    payload.Title,
		Body:     payload.Body,
		Tag:      payload.Tag,
		Renotify: payload.Renotify,
		Data:     payload.Data,
		Actions: lo.Map(payload.Actions, func(a Action, _ int) *messaging.WebpushNotificationAction {
			return &messaging.WebpushNotificationAction{Action: a.Action, Title: a.Title}
		}),
	}

	webpush := &messaging.WebpushConfig{Notification: webNotification}
	if link := p.absoluteLink(payload.Link); link != "" {
		webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: link}
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data:    payload.Data,
		Webpush: webpush,
		Android: &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{Tag: payload.Tag},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ThreadID: payload.Tag},
			},
		},
	}
}

// absoluteLink возвращает https-ссылку или "", если ее не собрать
func (p *FCMProvider) absoluteLink(link string) string {
	if strings.HasPrefix(link, "https://") {
		return link
	}
	if p.linkBaseURL == "" {
		return ""
	}
	base, err := url.Parse(p.linkBaseURL)
	if err != nil || base.Scheme != "https" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func fcmReason(err error) string {
	if messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) || messaging.IsSenderIDMismatch(err) {
		return ReasonInvalidToken
	}
	return ReasonRejected
}
