// Package model defines the provider‑agnostic abstraction for the language
// models behind model-backed evaluators.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Classify vendor failures into the core error taxonomy (ClassifyStatus)
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (Anthropic, OpenAI, Gemini) implement the Model interface from this
// package so evaluators remain decoupled from vendor SDKs.
package model
