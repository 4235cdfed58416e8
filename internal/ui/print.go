package ui

import "fmt"

// Success renders a checkmark-prefixed confirmation line.
func (r *Renderer) Success(msg string) string {
	return fmt.Sprintf("%s %s", r.theme.Good.Bold(true).Render("✓"), msg)
}

// Failure renders a cross-prefixed error line.
func (r *Renderer) Failure(msg string) string {
	return fmt.Sprintf("%s %s", r.theme.Bad.Bold(true).Render("✗"), msg)
}

// Warn renders a warning line.
func (r *Renderer) Warn(msg string) string {
	return fmt.Sprintf("%s %s", r.theme.Warning.Bold(true).Render("⚠"), msg)
}

// Notice renders an informational line.
func (r *Renderer) Notice(msg string) string {
	return fmt.Sprintf("%s %s", r.theme.Info.Bold(true).Render("ℹ"), msg)
}
