// Command send delivers a sample message to a running emaillog capture
// listener and prints the resulting log list.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

func main() {
	baseURL := getenvDefault("EMAILLOG_URL", "http://localhost:3025")
	smtpAddr := getenvDefault("EMAILLOG_SMTP", "localhost:2025")
	smtpUser := getenvDefault("SMTP_USERNAME", "emaillog")
	smtpPass := getenvDefault("SMTP_PASSWORD", "emaillog")

	to := []string{"ada@example.com", "bob@example.com"}
	message := buildTestMessage("Welcome aboard", to)
	auth := sasl.NewPlainClient("", smtpUser, smtpPass)
	if err := sendPlaintext(smtpAddr, auth, "wordpress@example.com", to, strings.NewReader(message)); err != nil {
		fail("send mail", err)
	}
	fmt.Println("message sent to", strings.Join(to, ", "))

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}
	login, _ := json.Marshal(map[string]string{"email": "admin@example.com"})
	resp, err := client.Post(baseURL+"/api/login", "application/json", bytes.NewReader(login))
	if err != nil {
		fail("login", err)
	}
	resp.Body.Close()

	resp, err = client.Get(baseURL + "/api/logs?orderby=sent_date&order=desc")
	if err != nil {
		fail("list logs", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Println(string(body))
}

// sendPlaintext delivers r over an unencrypted connection. The capture
// listener offers no STARTTLS, which smtp.SendMail insists on.
func sendPlaintext(addr string, auth sasl.Client, from string, to []string, r io.Reader) error {
	c, err := smtp.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()
	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.SendMail(from, to, r); err != nil {
		return err
	}
	return c.Quit()
}

func buildTestMessage(subject string, to []string) string {
	lines := []string{
		"From: WordPress <wordpress@example.com>",
		"To: " + strings.Join(to, ", "),
		"Reply-To: support@example.com",
		"Subject: " + subject,
		"Date: " + time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="emaillog"`,
		"",
		"--emaillog",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Thanks for signing up.",
		"--emaillog",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Thanks for signing up.</p>",
		"--emaillog--",
		"",
	}
	return strings.Join(lines, "\r\n")
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
