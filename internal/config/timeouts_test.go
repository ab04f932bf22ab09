package config

import (
	"testing"
	"time"
)

func TestLoadTimeouts_Defaults(t *testing.T) {
	for _, name := range []string{
		"VMAAS_TIMEOUT_VM_READY", "VMAAS_TIMEOUT_CLOUD_INIT", "VMAAS_TIMEOUT_IMAGE_IMPORT",
		"VMAAS_TIMEOUT_COMMISSIONING", "VMAAS_TIMEOUT_DEPLOY",
		"VMAAS_RETRY_MAX_ATTEMPTS", "VMAAS_RETRY_INITIAL_DELAY",
	} {
		t.Setenv(name, "")
	}

	timeouts := LoadTimeouts()

	if len(timeouts.Ignored) != 0 {
		t.Errorf("Expected nothing ignored, got %v", timeouts.Ignored)
	}
	if timeouts.VMReady != 10*time.Minute {
		t.Errorf("Expected VMReady default 10m, got %v", timeouts.VMReady)
	}
	if timeouts.CloudInit != 30*time.Minute {
		t.Errorf("Expected CloudInit default 30m, got %v", timeouts.CloudInit)
	}
	if timeouts.ImageImport != 2*time.Hour {
		t.Errorf("Expected ImageImport default 2h, got %v", timeouts.ImageImport)
	}
	if timeouts.Commissioning != 30*time.Minute {
		t.Errorf("Expected Commissioning default 30m, got %v", timeouts.Commissioning)
	}
	if timeouts.Deploy != 0 {
		t.Errorf("Expected Deploy default 0, got %v", timeouts.Deploy)
	}
	if timeouts.RetryMaxAttempts != 5 {
		t.Errorf("Expected RetryMaxAttempts default 5, got %d", timeouts.RetryMaxAttempts)
	}
	if timeouts.RetryInitialDelay != 1*time.Second {
		t.Errorf("Expected RetryInitialDelay default 1s, got %v", timeouts.RetryInitialDelay)
	}
}

func TestLoadTimeouts_CustomValues(t *testing.T) {
	t.Setenv("VMAAS_TIMEOUT_CLOUD_INIT", "45m")
	t.Setenv("VMAAS_TIMEOUT_DEPLOY", "3h")
	t.Setenv("VMAAS_RETRY_MAX_ATTEMPTS", "8")

	timeouts := LoadTimeouts()

	if timeouts.CloudInit != 45*time.Minute {
		t.Errorf("Expected CloudInit 45m, got %v", timeouts.CloudInit)
	}
	if timeouts.Deploy != 3*time.Hour {
		t.Errorf("Expected Deploy 3h, got %v", timeouts.Deploy)
	}
	if timeouts.RetryMaxAttempts != 8 {
		t.Errorf("Expected RetryMaxAttempts 8, got %d", timeouts.RetryMaxAttempts)
	}
}

func TestLoadTimeouts_InvalidValues(t *testing.T) {
	t.Setenv("VMAAS_TIMEOUT_IMAGE_IMPORT", "soon")
	t.Setenv("VMAAS_RETRY_MAX_ATTEMPTS", "many")

	timeouts := LoadTimeouts()

	if timeouts.ImageImport != 2*time.Hour {
		t.Errorf("Expected ImageImport to fall back to 2h, got %v", timeouts.ImageImport)
	}
	if timeouts.RetryMaxAttempts != 5 {
		t.Errorf("Expected RetryMaxAttempts to fall back to 5, got %d", timeouts.RetryMaxAttempts)
	}
	want := []string{"VMAAS_TIMEOUT_IMAGE_IMPORT", "VMAAS_RETRY_MAX_ATTEMPTS"}
	if len(timeouts.Ignored) != len(want) {
		t.Fatalf("Expected ignored %v, got %v", want, timeouts.Ignored)
	}
	for i := range want {
		if timeouts.Ignored[i] != want[i] {
			t.Errorf("Expected ignored %v, got %v", want, timeouts.Ignored)
		}
	}
}

func TestLoadTimeouts_BadValueKeepsOthers(t *testing.T) {
	t.Setenv("VMAAS_TIMEOUT_VM_READY", "ten minutes")
	t.Setenv("VMAAS_TIMEOUT_COMMISSIONING", "1h15m")

	timeouts := LoadTimeouts()

	if timeouts.VMReady != 10*time.Minute {
		t.Errorf("Expected VMReady to fall back to 10m, got %v", timeouts.VMReady)
	}
	if timeouts.Commissioning != 75*time.Minute {
		t.Errorf("Expected Commissioning 1h15m, got %v", timeouts.Commissioning)
	}
}

func TestDefaultTimeouts_AreIndependent(t *testing.T) {
	a := DefaultTimeouts()
	a.VMReady = time.Second
	if DefaultTimeouts().VMReady != 10*time.Minute {
		t.Error("Expected DefaultTimeouts to return a fresh value")
	}
}
