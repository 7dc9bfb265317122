// Command keyservo listens to a microphone, classifies each one-second window
// of audio, and presses a key with a servo arm whenever the trigger sound is
// heard.
//
// Usage:
//
//	keyservo [run] [flags]
//	keyservo devices
package main

import (
	"fmt"
	"os"

	"github.com/petems/keyservo/cmd/keyservo/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
