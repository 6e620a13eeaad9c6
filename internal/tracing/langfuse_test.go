package tracing

import "testing"

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantOK   bool
		wantHost string
	}{
		{"unset", map[string]string{}, false, ""},
		{"public key only", map[string]string{"LANGFUSE_PUBLIC_KEY": "pk"}, false, ""},
		{"default host", map[string]string{"LANGFUSE_PUBLIC_KEY": "pk", "LANGFUSE_SECRET_KEY": "sk"}, true, defaultHost},
		{"explicit host", map[string]string{
			"LANGFUSE_PUBLIC_KEY": "pk", "LANGFUSE_SECRET_KEY": "sk", "LANGFUSE_HOST": "https://cloud.langfuse.com",
		}, true, "https://cloud.langfuse.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY", "LANGFUSE_HOST"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, ok := ConfigFromEnv()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if cfg.Host != tt.wantHost || cfg.Name != traceName || cfg.PublicKey != "pk" {
				t.Errorf("cfg = %+v", cfg)
			}
		})
	}
}

func TestRegister_DisabledIsNoop(t *testing.T) {
	t.Setenv("LANGFUSE_PUBLIC_KEY", "")
	t.Setenv("LANGFUSE_SECRET_KEY", "")

	flush, ok := Register()
	if ok {
		t.Fatal("tracing enabled without keys")
	}
	flush()
}
