// Copyright 2026 the gtafsync authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notify mails the administrator one aggregate summary when an
// unattended run ends with failures.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/gomail.v2"
)

// Sender delivers one composed message. gomail's Dialer satisfies it; tests
// substitute their own.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// 📧 Mailer composes and sends the aggregate failure message.
type Mailer struct {
	from   string
	to     []string
	sender Sender
	now    func() time.Time
}

// New returns a Mailer over an SMTP dialer.
func New(host string, port int, username, password, from string, to []string) *Mailer {
	return &Mailer{
		from:   from,
		to:     to,
		sender: gomail.NewDialer(host, port, username, password),
		now:    time.Now,
	}
}

// NewWithSender returns a Mailer with a custom delivery mechanism.
func NewWithSender(sender Sender, from string, to []string) *Mailer {
	return &Mailer{from: from, to: to, sender: sender, now: time.Now}
}

// FailureSummary sends one message listing each failed file and its problem.
// An empty failure map sends nothing.
func (m *Mailer) FailureSummary(ctx context.Context, failures map[string]string) error {
	if len(failures) == 0 {
		return nil
	}

	files := make([]string, 0, len(failures))
	for file := range failures {
		files = append(files, file)
	}
	sort.Strings(files)

	var body strings.Builder
	fmt.Fprintf(&body, "User batch synchronization finished with %d failed file(s).\n\n", len(files))
	for _, file := range files {
		fmt.Fprintf(&body, "  %s: %s\n", file, failures[file])
	}

	msg := gomail.NewMessage()
	msg.SetHeader("Date", msg.FormatDate(m.now()))
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to...)
	msg.SetHeader("Subject", fmt.Sprintf("[gtafsync] %d file(s) failed", len(files)))
	msg.SetBody("text/plain", body.String())

	if err := m.sender.DialAndSend(msg); err != nil {
		return errors.Errorf("sending failure summary: %w", err)
	}

	zerolog.Ctx(ctx).Info().Int("files", len(files)).Msg("failure summary sent")
	return nil
}
