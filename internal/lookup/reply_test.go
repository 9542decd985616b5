package lookup

import (
	"bytes"
	"errors"
	"testing"
)

func TestReplyParser(t *testing.T) {
	tests := []struct {
		name     string
		chunks   []string
		wantCode int
		wantMsg  string
	}{
		// ── Framing ──────────────────────────────────────────────────────────
		{
			name:     "single line reply",
			chunks:   []string{"250 OK\r\n"},
			wantCode: 250,
			wantMsg:  "OK",
		},
		{
			name:     "line split across chunks",
			chunks:   []string{"25", "0 2.1.5 Recipient ", "ok\r\n"},
			wantCode: 250,
			wantMsg:  "2.1.5 Recipient ok",
		},
		{
			name:     "crlf split across chunks",
			chunks:   []string{"220 mx ready\r", "\n"},
			wantCode: 220,
			wantMsg:  "mx ready",
		},
		{
			name:     "bare three digit terminator",
			chunks:   []string{"250\r\n"},
			wantCode: 250,
			wantMsg:  "",
		},

		// ── Multi-line continuation ──────────────────────────────────────────
		{
			name:     "two line greeting is one reply",
			chunks:   []string{"250-mx.example.com Hello\r\n250 SIZE 35882577\r\n"},
			wantCode: 250,
			wantMsg:  "mx.example.com Hello SIZE 35882577",
		},
		{
			name:     "many continuation lines arrive one at a time",
			chunks:   []string{"250-PIPELINING\r\n", "250-8BITMIME\r\n", "250 HELP\r\n"},
			wantCode: 250,
			wantMsg:  "PIPELINING 8BITMIME HELP",
		},
		{
			name:     "terminating line code is authoritative",
			chunks:   []string{"250-first\r\n251 second\r\n"},
			wantCode: 251,
			wantMsg:  "first second",
		},

		// ── Text handling ────────────────────────────────────────────────────
		{
			name:     "non-ascii bytes pass through verbatim",
			chunks:   []string{"550 bo\xc3\xaete inconnue\r\n"},
			wantCode: 550,
			wantMsg:  "bo\xc3\xaete inconnue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p ReplyParser
			for i, chunk := range tt.chunks {
				if err := p.Feed([]byte(chunk)); err != nil {
					t.Fatalf("Feed(%q) error: %v", chunk, err)
				}
				r, err := p.Next()
				if err != nil {
					t.Fatalf("Next() error: %v", err)
				}
				last := i == len(tt.chunks)-1
				if !last && r != nil {
					t.Fatalf("reply completed early after chunk %d: %+v", i, r)
				}
				if last {
					if r == nil {
						t.Fatal("no reply after final chunk")
					}
					if r.Code != tt.wantCode {
						t.Errorf("code = %d, want %d", r.Code, tt.wantCode)
					}
					if r.Message != tt.wantMsg {
						t.Errorf("message = %q, want %q", r.Message, tt.wantMsg)
					}
				}
			}
		})
	}
}

func TestReplyParserWaitsForTerminator(t *testing.T) {
	var p ReplyParser
	if err := p.Feed([]byte("250-still going\r\n")); err != nil {
		t.Fatal(err)
	}
	r, err := p.Next()
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatalf("continuation-only buffer yielded a reply: %+v", r)
	}
}

func TestReplyParserKeepsExcessBytes(t *testing.T) {
	var p ReplyParser
	if err := p.Feed([]byte("250 first\r\n220 second\r\n")); err != nil {
		t.Fatal(err)
	}

	r, err := p.Next()
	if err != nil || r == nil {
		t.Fatalf("first Next() = %+v, %v", r, err)
	}
	if r.Code != 250 {
		t.Errorf("first code = %d, want 250", r.Code)
	}

	r, err = p.Next()
	if err != nil || r == nil {
		t.Fatalf("second Next() = %+v, %v", r, err)
	}
	if r.Code != 220 || r.Message != "second" {
		t.Errorf("second reply = %+v, want 220 second", r)
	}
}

func TestReplyParserMalformedLines(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"no digits", "hello world\r\n"},
		{"too short", "25\r\n"},
		{"bad separator", "250+nope\r\n"},
		{"code below range", "099 early\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p ReplyParser
			if err := p.Feed([]byte(tt.line)); err != nil {
				t.Fatal(err)
			}
			if _, err := p.Next(); err == nil {
				t.Errorf("Next() accepted malformed line %q", tt.line)
			}
		})
	}
}

func TestReplyParserRunawayBuffer(t *testing.T) {
	var p ReplyParser
	junk := bytes.Repeat([]byte("x"), 8192)

	var fed int
	for fed <= maxReplyBuffer {
		err := p.Feed(junk)
		fed += len(junk)
		if err != nil {
			if !errors.Is(err, ErrReplyTooLong) {
				t.Fatalf("Feed returned %v, want ErrReplyTooLong", err)
			}
			return
		}
	}
	t.Fatal("parser accepted more than 64 KiB without a complete reply")
}
