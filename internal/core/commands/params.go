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

// Package commands provides the concrete implementations of the Chain of
// Responsibility (COR) pattern's Command interface. Together they turn a
// storage notification into a fully analysed video:
//
//	MediaTriggerToGCSObject -> GCSToTempFile -> VideoIngest -> SceneAnalysis
//	  -> Transcribe -> SafetyCheck -> ReportPersistToBigQuery
//
// Besides the CtxIn/CtxOut hand-off, every command publishes its result
// under a well known key so that later commands can find it regardless of
// their position in the chain.
package commands

// Well known context keys.
const (
	VideoParam      = "__VIDEO__"      // *model.VideoAsset
	ScenesParam     = "__SCENES__"     // *model.SceneList
	KeyframesParam  = "__KEYFRAMES__"  // int, number of keyframes sampled
	TranscriptParam = "__TRANSCRIPT__" // *model.Transcript
	SafetyParam     = "__SAFETY__"     // *model.SafetyReport
	ReportParam     = "__REPORT__"     // *model.AnalysisRow
)
