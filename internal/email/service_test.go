package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"linear/api/internal/model"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config, nil)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func capture(out *[]capturedMail) Sender {
	return func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*out = append(*out, capturedMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
}

func TestSendMention(t *testing.T) {
	var sent []capturedMail
	svc := NewService(Config{
		Host:     "smtp.example.com",
		Port:     "587",
		From:     "board@example.com",
		FromName: "Linear",
		BaseURL:  "https://linear.example/",
	}, nil).WithSender(capture(&sent))

	err := svc.SendMention(context.Background(),
		model.User{ID: "u1", Name: "John Smith", Email: "john@example.com"},
		"Ada Lovelace",
		model.Ticket{ID: "ENG-1", Title: "Fix <login>"},
		model.Comment{Body: "hey @john   check this"},
	)
	if err != nil {
		t.Fatalf("SendMention: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	mail := sent[0]
	if mail.addr != "smtp.example.com:587" || mail.from != "board@example.com" {
		t.Errorf("unexpected envelope %q %q", mail.addr, mail.from)
	}
	if len(mail.to) != 1 || mail.to[0] != "john@example.com" {
		t.Errorf("to = %v", mail.to)
	}
	for _, want := range []string{
		"Subject: [ENG-1] Ada Lovelace mentioned you",
		"From: Linear <board@example.com>",
		"hey @john check this",
		"https://linear.example/issue/ENG-1",
		"Fix &lt;login&gt;",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendMentionSkipsUsersWithoutAddress(t *testing.T) {
	var sent []capturedMail
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "board@example.com"}, nil).WithSender(capture(&sent))

	if err := svc.SendMention(context.Background(), model.User{ID: "u1"}, "Ada", model.Ticket{ID: "ENG-1"}, model.Comment{}); err != nil {
		t.Fatalf("SendMention: %v", err)
	}
	if len(sent) != 0 {
		t.Errorf("sent %d messages, want 0", len(sent))
	}
}

func TestSendHTMLEmailRequiresConfig(t *testing.T) {
	svc := NewService(Config{}, nil)
	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "s", "t", "<p>h</p>"); err != ErrNotConfigured {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestExcerptTruncatesByRune(t *testing.T) {
	if got := excerpt("héllo wörld", 5); got != "héllo…" {
		t.Errorf("excerpt = %q", got)
	}
	if got := excerpt(" a \n b ", 10); got != "a b" {
		t.Errorf("excerpt = %q", got)
	}
}
