package interview

import "github.com/loqalabs/loqa-interview/internal/call"

// event is anything the Run loop processes.
type event interface{ isEvent() }

type (
	startCmd        struct{}
	stopCaptureCmd  struct{}
	cancelCmd       struct{}
	retryCmd        struct{}
	retryCaptureCmd struct{}
	muteCmd         struct{ muted bool }

	startResult struct {
		gen uint64
		cfg call.AssistantConfig
		err error
	}
	speakResult struct {
		gen uint64
		err error
	}
	captureResult struct {
		gen uint64
		err error
	}
	transcriptResult struct {
		gen    uint64
		answer answer
		err    error
	}
	silenceFired     struct{ gen uint64 }
	retryDue         struct{ gen uint64 }
	tickFired        struct{}
	maxDurationFired struct{}
)

// answer is a candidate reply, either transcribed locally or delivered by a
// live session.
type answer struct {
	Text       string
	Confidence *float64
}

func (startCmd) isEvent()         {}
func (stopCaptureCmd) isEvent()   {}
func (cancelCmd) isEvent()        {}
func (retryCmd) isEvent()         {}
func (retryCaptureCmd) isEvent()  {}
func (muteCmd) isEvent()          {}
func (startResult) isEvent()      {}
func (speakResult) isEvent()      {}
func (captureResult) isEvent()    {}
func (transcriptResult) isEvent() {}
func (silenceFired) isEvent()     {}
func (retryDue) isEvent()         {}
func (tickFired) isEvent()        {}
func (maxDurationFired) isEvent() {}
