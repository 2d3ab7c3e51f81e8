// Package service contains the business workflows sitting between
// the HTTP handlers and the stores
package service

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"gopkg.in/gomail.v2"
)

// Mailer delivers verification mails. It's an interface so tests can
// swap in a recorder instead of a real SMTP connection.
type Mailer interface {
	SendVerification(to, token string) error
}

type SMTPMailer struct {
	host       string
	port       int
	from       string
	password   string
	verifyBase string
}

func NewSMTPMailer() *SMTPMailer {
	scheme := "http"
	if viper.GetBool("host.ssl_enabled") {
		scheme = "https"
	}

	return &SMTPMailer{
		host:       viper.GetString("mail.host"),
		port:       viper.GetInt("mail.port"),
		from:       viper.GetString("mail.sender_address"),
		password:   viper.GetString("mail.password"),
		verifyBase: fmt.Sprintf("%s://%s/verify", scheme, viper.GetString("host.domain")),
	}
}

func (m *SMTPMailer) SendVerification(to, token string) error {
	if to == m.from {
		return errors.New("invalid email address")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Verify your account")
	msg.SetBody("text/html", fmt.Sprintf("Please verify your email by clicking the following link: <a href='%s/%s'>verify</a>", m.verifyBase, token))

	d := gomail.NewDialer(m.host, m.port, m.from, m.password)

	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send verification mail, %w", err)
	}

	return nil
}
