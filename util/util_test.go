package util

import (
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("Expected embedded version to be non-empty")
	}
	if strings.ContainsAny(GetVersion(), "\n ") {
		t.Errorf("Version should be trimmed, got %q", GetVersion())
	}
}

func TestGetNameAndVersion(t *testing.T) {
	got := GetNameAndVersion()
	if !strings.HasPrefix(got, "fedsync / ") {
		t.Errorf("Expected 'fedsync / <version>', got '%s'", got)
	}
}

func TestNormalizeInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"newlines", "a\nb", "a b"},
		{"html", "<b>hi</b>", "&lt;b&gt;hi&lt;/b&gt;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeInput(tt.input); got != tt.want {
				t.Errorf("NormalizeInput(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMarkdownLinksToHTML(t *testing.T) {
	got := MarkdownLinksToHTML("see [docs](https://example.com/docs)")
	want := `see <a href="https://example.com/docs" target="_blank" rel="noopener noreferrer">docs</a>`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := MarkdownLinksToHTML("no links here"); got != "no links here" {
		t.Errorf("text without links should be unchanged, got %q", got)
	}
}

func TestRenderContent(t *testing.T) {
	got := RenderContent("<script>\n[x](https://a.example)")
	if strings.Contains(got, "<script>") {
		t.Errorf("RenderContent should escape HTML, got %q", got)
	}
	if !strings.Contains(got, `<a href="https://a.example"`) {
		t.Errorf("RenderContent should render links, got %q", got)
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	pair, err := GeneratePemKeypair()
	if err != nil {
		t.Fatalf("GeneratePemKeypair failed: %v", err)
	}

	privBlock, _ := pem.Decode([]byte(pair.Private))
	if privBlock == nil || privBlock.Type != "RSA PRIVATE KEY" {
		t.Fatal("private key is not a PKCS1 PEM block")
	}
	if _, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes); err != nil {
		t.Errorf("private key does not parse: %v", err)
	}

	pubBlock, _ := pem.Decode([]byte(pair.Public))
	if pubBlock == nil || pubBlock.Type != "PUBLIC KEY" {
		t.Fatal("public key is not a PKIX PEM block")
	}
	if _, err := x509.ParsePKIXPublicKey(pubBlock.Bytes); err != nil {
		t.Errorf("public key does not parse: %v", err)
	}
}
