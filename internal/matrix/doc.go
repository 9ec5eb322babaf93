// Package matrix implements the Matrix frontend: it turns room commands and
// player actions into session manager operations and renders replies back as
// markdown-formatted Matrix messages.
package matrix
