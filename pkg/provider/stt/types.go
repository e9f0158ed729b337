package stt

import "github.com/loqua-ai/loqua/pkg/types"

// Transcript is re-exported from the shared types package so that provider
// implementations and consumers can refer to stt.Transcript.
type Transcript = types.Transcript
