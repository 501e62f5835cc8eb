package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/loqalabs/loqa-interview/internal/interview"
)

type controller interface {
	StopCapture()
	Cancel()
	Retry()
	RetryCapture()
	SetMuted(muted bool)
	Snapshot() interview.Snapshot
}

type snapshotSource interface {
	Subscribe() (<-chan interview.Snapshot, func())
}

// readControls maps console lines to interview commands until r is
// exhausted: Enter stops the answer, m toggles mute, r retries, q ends the
// call.
func readControls(r io.Reader, ctl controller) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			ctl.StopCapture()
		case "m":
			ctl.SetMuted(!ctl.Snapshot().Muted)
		case "r":
			if ctl.Snapshot().Status == interview.StatusError {
				ctl.Retry()
			} else {
				ctl.RetryCapture()
			}
		case "q":
			ctl.Cancel()
			return
		}
	}
}

// printProgress writes a human-readable view of the interview to w.
func printProgress(w io.Writer, src snapshotSource) {
	snaps, unsubscribe := src.Subscribe()
	defer unsubscribe()
	var (
		status     interview.Status = -1
		turns      int
		muted      bool
		lastNotice *interview.Notice
	)
	for snap := range snaps {
		if snap.Turns > turns && snap.LastTurn != nil && snap.LastTurn.Speaker == interview.SpeakerCandidate {
			fmt.Fprintf(w, "> %s\n", snap.LastTurn.Text)
		}
		turns = snap.Turns
		if snap.Notice != nil && snap.Notice != lastNotice {
			lastNotice = snap.Notice
			fmt.Fprintf(w, "! %s\n", snap.Notice.Message)
		}
		if snap.Muted != muted {
			muted = snap.Muted
			if muted {
				fmt.Fprintln(w, "(muted)")
			} else {
				fmt.Fprintln(w, "(unmuted)")
			}
		}
		if snap.Status == status {
			continue
		}
		status = snap.Status
		switch status {
		case interview.StatusConnecting:
			fmt.Fprintln(w, "connecting...")
		case interview.StatusAsking:
			fmt.Fprintf(w, "Q%d/%d: %s\n", snap.QuestionIndex+1, snap.QuestionCount, snap.CurrentQuestion)
		case interview.StatusListening:
			fmt.Fprintln(w, "(listening, press Enter when you have finished answering)")
		case interview.StatusError:
			fmt.Fprintln(w, "interview failed to start, type r to retry or q to quit")
		case interview.StatusCompleted:
			fmt.Fprintf(w, "interview completed (%s)\n", snap.EndReason)
		}
	}
}
