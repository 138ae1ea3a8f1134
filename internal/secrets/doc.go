// Package secrets scrubs credentials out of engine output before it is
// logged, stored in the operation log, or shipped to a learning backend.
// Detection runs on the Gitleaks ruleset; matches are replaced with
// [REDACTED:rule-id:preview] markers that keep enough context for a
// human to recognize what was removed without exposing the value.
package secrets
