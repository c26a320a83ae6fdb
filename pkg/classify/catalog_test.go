package classify

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCatalog_Register(t *testing.T) {
	c := Russian()

	if _, ok := c.Lookup("OVERLOAD_LIMIT"); ok {
		t.Fatal("OVERLOAD_LIMIT should not be known yet")
	}

	c.Register("OVERLOAD_LIMIT", "Портал перегружен")

	msg, ok := c.Lookup("OVERLOAD_LIMIT")
	if !ok || msg != "Портал перегружен" {
		t.Errorf("Lookup after Register = %q, %v", msg, ok)
	}
	if got := c.RemoteMessage("OVERLOAD_LIMIT", "ignored"); got != "Портал перегружен" {
		t.Errorf("RemoteMessage = %q, want registered message", got)
	}
}

func TestCatalog_RegisterDoesNotLeakAcrossCatalogs(t *testing.T) {
	a := Russian()
	b := Russian()
	a.Register(CodeInvalidToken, "changed")

	if msg, _ := b.Lookup(CodeInvalidToken); msg == "changed" {
		t.Error("Catalogs must not share their code tables")
	}
}

func TestCatalog_RemoteMessageFallback(t *testing.T) {
	c := English()

	tests := []struct {
		code        string
		description string
		want        string
	}{
		{"xyz", "", "Bitrix24 error [xyz]: Unknown Bitrix24 error"},
		{"xyz", "boom", "Bitrix24 error [xyz]: boom"},
	}

	for _, tt := range tests {
		if got := c.RemoteMessage(tt.code, tt.description); got != tt.want {
			t.Errorf("RemoteMessage(%q, %q) = %q, want %q", tt.code, tt.description, got, tt.want)
		}
	}
}

func TestCatalog_CodesSorted(t *testing.T) {
	codes := Russian().Codes()
	for i := 1; i < len(codes); i++ {
		if codes[i-1] > codes[i] {
			t.Fatalf("Codes() not sorted: %v", codes)
		}
	}
	for _, want := range []string{CodeInsufficientScope, CodeInvalidToken, CodeMethodNotFound, CodeQueryLimit} {
		found := false
		for _, c := range codes {
			if c == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Codes() missing %q", want)
		}
	}
}

func TestCatalogs_CoverSameCodes(t *testing.T) {
	ru := Russian().Codes()
	en := English().Codes()
	if strings.Join(ru, ",") != strings.Join(en, ",") {
		t.Errorf("Russian codes %v differ from English codes %v", ru, en)
	}
}

func TestCatalog_TimeoutMessage(t *testing.T) {
	c := Russian()
	if got := c.timeoutMessage(30 * time.Second); got != "Таймаут запроса к Bitrix24 (30 сек)" {
		t.Errorf("timeoutMessage = %q", got)
	}
}

func TestCatalog_ConcurrentRegister(t *testing.T) {
	c := Russian()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Register("NEW_CODE", "message")
		}()
		go func() {
			defer wg.Done()
			c.RemoteMessage("NEW_CODE", "")
		}()
	}
	wg.Wait()
}

func TestForLocale(t *testing.T) {
	if ForLocale("en").Templates.TLS != English().Templates.TLS {
		t.Error("ForLocale(en) should return the English catalog")
	}
	if ForLocale("ru").Templates.TLS != Russian().Templates.TLS {
		t.Error("ForLocale(ru) should return the Russian catalog")
	}
	if ForLocale("").Templates.TLS != Russian().Templates.TLS {
		t.Error("ForLocale should default to Russian")
	}
}

func TestCatalogs_ServiceTemplates(t *testing.T) {
	for name, c := range map[string]*Catalog{"ru": Russian(), "en": English()} {
		tpl := c.Templates
		for field, v := range map[string]string{
			"RateLimited":      tpl.RateLimited,
			"MethodNotAllowed": tpl.MethodNotAllowed,
			"NotConfigured":    tpl.NotConfigured,
			"InvalidEndpoint":  tpl.InvalidEndpoint,
			"InvalidParameter": tpl.InvalidParameter,
			"Upstream":         tpl.Upstream,
		} {
			if v == "" {
				t.Errorf("%s catalog: %s template is empty", name, field)
			}
		}
	}

	if got := Russian().Templates.MethodNotAllowed; got != "Только GET-запросы разрешены" {
		t.Errorf("MethodNotAllowed = %q", got)
	}
}
