// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package model defines the data structures for the application. This file,
// `examples.go`, provides hardcoded example responses for the generative
// collaborators.
//
// The examples are serialised into the prompts ("few-shot" prompting) so the
// models answer with exactly the JSON shape the boundary parsers accept.
package model

// GetExampleTranscript returns the response shape expected from the
// transcription model.
func GetExampleTranscript() *TranscriptResult {
	return &TranscriptResult{
		Text:     "Welcome back to the workshop. Today we are restoring a 1968 fastback, starting with the floor pans.",
		Language: "en",
		Summary:  "A restoration video introducing the floor pan repair of a classic car.",
		KeyPoints: []string{
			"Introduces the car being restored",
			"Explains the plan for the floor pans",
		},
	}
}

// GetExampleClassification returns the response shape expected from the
// safety classifier.
func GetExampleClassification() *ClassifierResult {
	return &ClassifierResult{
		Score:   72,
		Issues:  []string{"Brief depiction of an unprotected power tool near the face"},
		Details: "Mostly instructional content with one frame of unsafe tool handling.",
	}
}

// GetExampleRecommendation returns the response shape expected from the
// recommendation model.
func GetExampleRecommendation() *Recommendation {
	return &Recommendation{
		Summary:    "A clear, well paced tutorial held back by flat lighting in the opening scenes.",
		Strengths:  []string{"Confident narration", "Logical step order"},
		Weaknesses: []string{"Underexposed opening shots", "Static camera during the welding sequence"},
		Recommendations: []string{
			"Brighten the opening scenes with warmer key light",
			"Add a slow push-in during the welding close up",
			"Stabilise handheld shots",
		},
		FollowUpPrompt: "Re-shoot the opening garage scene with warm golden key light, a slow dolly push-in toward the car, and crisp shallow depth of field.",
	}
}
