// Package notify dispatches unknown-product-code reports to the operations
// team and marks the registry rows as notified.
package notify

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/gomail.v2"
)

// Mailer sends notification emails over SMTP.
type Mailer interface {
	SendReport(subject, body, filename string, attachment []byte, recipients []string) error
}

// SMTPMailer sends mail through a plain SMTP relay with STARTTLS.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer creates a mailer for the given relay.
func NewSMTPMailer(server string, port int, address, password string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(server, port, address, password),
		from:   address,
	}
}

// SendReport sends one email with the workbook attached.
func (m *SMTPMailer) SendReport(subject, body, filename string, attachment []byte, recipients []string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	msg.Attach(filename, gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(attachment)
		return err
	}))

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}
	return nil
}

// subject and body follow the original operations-team format.
func reportSubject(now time.Time) string {
	return fmt.Sprintf("MÃ ĐƠN HÀNG CÒN THIẾU - %s", now.Format("2006-01-02 15:04"))
}

func reportBody(now time.Time, count int) string {
	return fmt.Sprintf(
		"Thời gian xử lý: %s\n\n"+
			"Tổng số mã hàng không tồn tại trong hệ thống: %d\n\n"+
			"Chi tiết danh sách mã hàng được đính kèm trong file Excel.\n\n"+
			"Vui lòng kiểm tra file đính kèm để xem danh sách đầy đủ.\n",
		now.Format("2006-01-02 15:04:05"), count)
}
