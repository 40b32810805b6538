// Package mediatypes classifies files by extension into the content
// categories the catalog tracks (image, video, audio, document, archive)
// and maps extensions to MIME types.
package mediatypes
