// Package supervisor runs the background maintenance loop: retention
// purging, idle-timeout pausing, and periodic auto-save, in that order so
// a purge-due session is removed before auto-save could refresh it. Each
// tick acts per owner under the same locks as foreground commands.
package supervisor
