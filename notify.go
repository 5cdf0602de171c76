package rvg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const DefaultSubject = "Leftover vaccine reservation"

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityFailure Severity = "failure"
)

type Notification struct {
	Severity Severity
	Message  string
	Detail   string
}

func (n Notification) Text() string {
	if len(n.Detail) == 0 {
		return n.Message
	}
	return n.Message + NEWLINE + NEWLINE + n.Detail
}

// NotificationSink delivers the final result, and provider warnings when configured.
type NotificationSink interface {
	Notify(ctx context.Context, notification Notification) error
}

type LogSink struct{}

func (s LogSink) Notify(_ context.Context, notification Notification) error {
	if notification.Severity == SeveritySuccess {
		Log.Info(notification.Message)
		return nil
	}

	Log.Error(notification.Message)
	if len(notification.Detail) > 0 {
		Log.Debug(notification.Detail)
	}
	return nil
}

type EmailSink struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Subject  string
	// replaced in tests
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSink(config *Config) *EmailSink {
	return &EmailSink{
		Host:     config.SmtpHost,
		Port:     config.SmtpPort,
		Username: config.SmtpUsername,
		Password: config.SmtpPassword,
		From:     config.FromEmailAddress,
		To:       config.NotifyEmailAddrs,
		Subject:  DefaultSubject,
		sendMail: smtp.SendMail,
	}
}

func (s *EmailSink) message(notification Notification) []byte {
	subject := s.Subject
	if notification.Severity == SeverityFailure {
		subject = subject + " - failed"
	}

	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("From: %s\r\n", s.From))
	sb.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.To, ", ")))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(notification.Text(), NEWLINE, "\r\n"))

	return []byte(sb.String())
}

func (s *EmailSink) Notify(_ context.Context, notification Notification) error {
	if len(s.Host) == 0 || len(s.To) == 0 {
		return nil
	}

	var auth smtp.Auth
	if len(s.Username) > 0 {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}

	sendMail := s.sendMail
	if sendMail == nil {
		sendMail = smtp.SendMail
	}

	err := sendMail(fmt.Sprintf("%s:%d", s.Host, s.Port), auth, s.From, s.To, s.message(notification))
	if err != nil {
		return fmt.Errorf("sendEmail: %w", err)
	}

	Log.Debugf("Sent %s notification to %v", notification.Severity, s.To)
	return nil
}

// TelegramSink sends notifications through a Telegram bot. The bot is
// created on first use since creating it calls getMe.
type TelegramSink struct {
	ApiEndpoint string
	Token       string
	ChatId      string
	HttpClient  *http.Client

	bot   *tgbotapi.BotAPI
	mutex sync.Mutex
}

func NewTelegramSink(token string, chatId string, client *http.Client) *TelegramSink {
	return newTelegramSink(tgbotapi.APIEndpoint, token, chatId, client)
}

func newTelegramSink(apiEndpoint string, token string, chatId string, client *http.Client) *TelegramSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &TelegramSink{
		ApiEndpoint: apiEndpoint,
		Token:       token,
		ChatId:      chatId,
		HttpClient:  client,
	}
}

func (s *TelegramSink) botAPI() (*tgbotapi.BotAPI, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.bot != nil {
		return s.bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(s.Token, s.ApiEndpoint, s.HttpClient)
	if err != nil {
		return nil, err
	}
	s.bot = bot
	return bot, nil
}

// numeric ids are chats, anything else a channel username
func (s *TelegramSink) message(text string) tgbotapi.MessageConfig {
	if chatId, err := strconv.ParseInt(s.ChatId, 10, 64); err == nil {
		return tgbotapi.NewMessage(chatId, text)
	}
	return tgbotapi.NewMessageToChannel(s.ChatId, text)
}

func (s *TelegramSink) Notify(ctx context.Context, notification Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bot, err := s.botAPI()
	if err != nil {
		return fmt.Errorf("telegram: %w", censorTelegramError(err))
	}

	if _, err := bot.Send(s.message(notification.Text())); err != nil {
		return fmt.Errorf("telegram: %w", censorTelegramError(err))
	}

	Log.Debugf("Sent %s notification to telegram chat %s", notification.Severity, s.ChatId)
	return nil
}

// request urls carry the bot token
func censorTelegramError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []NotificationSink

func (m MultiSink) Notify(ctx context.Context, notification Notification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewNotificationSink always logs, and adds email and telegram when configured.
func NewNotificationSink(config *Config, client *http.Client) NotificationSink {
	sinks := MultiSink{LogSink{}}

	if len(config.SmtpHost) > 0 && len(config.NotifyEmailAddrs) > 0 {
		sinks = append(sinks, NewEmailSink(config))
	}

	if len(config.Telegram.Token) > 0 && len(config.Telegram.ChatId) > 0 {
		sinks = append(sinks, NewTelegramSink(config.Telegram.Token, config.Telegram.ChatId, client))
	} else if len(config.Telegram.ChatId) > 0 {
		Log.Warnf("telegram.chat_id is set but no bot token was found, telegram notifications disabled")
	}

	return sinks
}
