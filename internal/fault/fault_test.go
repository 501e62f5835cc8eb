package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("mic denied")
	err := fmt.Errorf("start capture: %w", Permission("stt.capture", base))
	if KindOf(err) != KindPermission {
		t.Fatalf("expected permission kind, got %s", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped base error to be reachable")
	}
}

func TestUnclassifiedIsTransient(t *testing.T) {
	if KindOf(errors.New("boom")) != KindTransient {
		t.Fatal("expected unclassified error to be transient")
	}
	if Is(nil, KindTransient) {
		t.Fatal("nil error must not match any kind")
	}
}

func TestSameKindNotDoubleWrapped(t *testing.T) {
	inner := Protocol("call.start", errors.New("missing assistant id"))
	outer := Protocol("interview.connect", inner)
	if outer != inner {
		t.Fatal("expected same-kind wrap to return the original error")
	}
}
