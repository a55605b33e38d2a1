package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/slimrmm/siterestore/internal/handoff"
)

func serve(t *testing.T, h *harness, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	NewHandler(h.b, slog.New(slog.NewTextHandler(io.Discard, nil))).ServeHTTP(rec, req)
	return rec
}

func TestHandlerRedirect(t *testing.T) {
	h := newHarness(t, testConfig(t, t.TempDir()))
	h.writeArchive(t, "")

	rec := serve(t, h, http.MethodGet, "/installer.php", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d\n%s", rec.Code, rec.Body)
	}
	body := rec.Body.String()
	for _, want := range []string{`id="handoff"`, `method="post"`, `name="` + handoff.FieldSession + `"`, `action="site-installer/main.installer"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s", want)
		}
	}
	if strings.Contains(body, secondaryHash) {
		t.Error("body leaks the secondary hash")
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestHandlerPasswordForm(t *testing.T) {
	h := newHarness(t, testConfig(t, t.TempDir()))
	h.writeArchive(t, "pa55word")

	rec := serve(t, h, http.MethodPost, "/installer.php", url.Values{ParamDupFolder: {"copy"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `type="password"`) || !strings.Contains(body, `name="dup_folder" value="copy"`) {
		t.Errorf("password form incomplete:\n%s", body)
	}

	rec = serve(t, h, http.MethodPost, "/installer.php", url.Values{
		ParamPassword:  {"wrong"},
		ParamSecureTry: {"1"},
	})
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid password") {
		t.Errorf("wrong password: status=%d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), `value="wrong"`) {
		t.Error("rejected password echoed back")
	}
}

func TestHandlerRoutesRedeemPassword(t *testing.T) {
	h := newHarness(t, testConfig(t, t.TempDir()))
	h.writeArchive(t, "pa55word")

	res := h.b.Run(context.Background(), Params{Client: "10.0.0.9", Password: "pa55word", SecureTry: true})
	if res.View != ViewRedirect {
		t.Fatalf("view = %s, err = %v", res.View, res.Err)
	}

	mux := http.NewServeMux()
	NewHandler(h.b, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes(mux)

	form := url.Values{
		handoff.FieldSession: {res.Form.SessionID},
		handoff.FieldKey:     {handoff.KeyPassword},
		handoff.FieldToken:   {fieldValue(res.Form, handoff.FieldTokenPrefix+handoff.KeyPassword)},
	}
	redeemOnce := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, handoff.RedeemPath, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := redeemOnce()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp handoff.RedeemResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Value != "pa55word" {
		t.Errorf("redeemed password = %q", resp.Value)
	}
	if rec := redeemOnce(); rec.Code == http.StatusOK {
		t.Error("password redeemed twice")
	}
}

func TestHandlerErrors(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Package.Hash = "zzzzzzz-00123456"
	h := newHarness(t, cfg)
	h.writeArchive(t, "")

	rec := serve(t, h, http.MethodGet, "/installer.php", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "does not belong to this installer") {
		t.Errorf("body:\n%s", rec.Body)
	}

	rec = serve(t, h, http.MethodPut, "/installer.php", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT status = %d", rec.Code)
	}
}

func TestParseParams(t *testing.T) {
	form := url.Values{
		ParamArchive:      {" /srv/uploads "},
		ParamDupFolder:    {"copy"},
		ParamForceExtract: {"on"},
		ParamZipMode:      {"shellexec"},
		ParamPassword:     {" spaced "},
		ParamSecureTry:    {"1"},
	}
	req := httptest.NewRequest(http.MethodPost, "/boot.php", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "192.0.2.7:5123"

	p, err := ParseParams(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatal(err)
	}
	want := Params{
		ArchiveDir:   "/srv/uploads",
		DupFolder:    "copy",
		ForceExtract: true,
		ZipMode:      "shellexec",
		Password:     " spaced ",
		SecureTry:    true,
		Client:       "192.0.2.7",
		Bootloader:   "/boot.php",
	}
	if p.ArchiveDir != want.ArchiveDir || p.DupFolder != want.DupFolder || p.ForceExtract != want.ForceExtract ||
		p.ZipMode != want.ZipMode || p.Password != want.Password || p.SecureTry != want.SecureTry ||
		p.Client != want.Client || p.Bootloader != want.Bootloader {
		t.Errorf("ParseParams = %+v, want %+v", p, want)
	}

	req = httptest.NewRequest(http.MethodGet, "/boot.php?force-extract-installer=false", nil)
	if p, _ := ParseParams(httptest.NewRecorder(), req); p.ForceExtract {
		t.Error("force-extract-installer=false parsed as true")
	}
}
