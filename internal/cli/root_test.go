package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"postbot/internal/post"
)

func executeCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Fatalf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sub := range []string{"serve", "run", "retract", "runs", "version"} {
		if !strings.Contains(out, sub) {
			t.Fatalf("help output missing subcommand %q", sub)
		}
	}
}

func TestRetractNeedsExactlyOneSelector(t *testing.T) {
	if _, err := executeCommand("retract", "--env-file", ""); err == nil {
		t.Fatalf("expected error without selectors")
	}
}

func TestParseTarget(t *testing.T) {
	got, err := parseTarget("-1001234:42")
	if err != nil || got.Channel != "-1001234" || got.MessageID != 42 {
		t.Fatalf("got %+v err=%v", got, err)
	}
	if got, err := parseTarget("@chan:7"); err != nil || got.Channel != "@chan" {
		t.Fatalf("got %+v err=%v", got, err)
	}
	for _, bad := range []string{"nochat", ":5", "-1001:", "-1001:x", "-1001:0"} {
		if _, err := parseTarget(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestLoadRequest(t *testing.T) {
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "req.yaml")
	body := "image:\n  url: https://img.example/a.jpg\ncaption: \"Model: Aria\"\nlink: https://src.example/1\nsettings:\n  link_placement: caption\n  lock_count: 2\n  channels: [\"-1001\"]\n"
	if err := os.WriteFile(reqPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	imgPath := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(imgPath, []byte{0xff, 0xd8}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	req, err := loadRequest(reqPath, imgPath, []string{"-1002", "-1003"}, "both")
	if err != nil {
		t.Fatalf("loadRequest: %v", err)
	}
	if req.Caption != "Model: Aria" || req.Settings.LockCount != 2 {
		t.Fatalf("req=%+v", req)
	}
	if len(req.Image.Data) != 2 || req.Image.URL != "" {
		t.Fatalf("image override not applied: %+v", req.Image)
	}
	if strings.Join(req.Settings.Channels, ",") != "-1002,-1003" || req.Settings.Placement != post.PlacementBoth {
		t.Fatalf("settings=%+v", req.Settings)
	}

	if _, err := loadRequest(reqPath, "", nil, "sideways"); err == nil {
		t.Fatalf("expected placement error")
	}
}

func TestLoadEnvMissingFileIsFine(t *testing.T) {
	if err := loadEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("loadEnv: %v", err)
	}
	p := filepath.Join(t.TempDir(), "x.env")
	if err := os.WriteFile(p, []byte("POSTBOT_CLI_TEST=1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("POSTBOT_CLI_TEST", "")
	os.Unsetenv("POSTBOT_CLI_TEST")
	if err := loadEnv(p); err != nil {
		t.Fatalf("loadEnv: %v", err)
	}
	if os.Getenv("POSTBOT_CLI_TEST") != "1" {
		t.Fatalf("env not loaded")
	}
}
