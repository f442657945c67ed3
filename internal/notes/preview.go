package notes

import "strings"

// ListPreviewLines is how many lines of text the note list shows per note.
const ListPreviewLines = 3

// ContentPreview returns the first maxLines lines of text, followed by a
// "..." line when anything was cut.
func ContentPreview(text string, maxLines int) string {
	if text == "" || maxLines <= 0 {
		return text
	}
	lines := strings.SplitN(text, "\n", maxLines+1)
	if len(lines) <= maxLines {
		return text
	}
	return strings.Join(lines[:maxLines], "\n") + "\n..."
}

// Preview is the list page excerpt of n's text.
func (n Note) Preview() string {
	return ContentPreview(n.Text, ListPreviewLines)
}
