// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mediacache

import (
	"mime"
	"net/url"
	"path"
	"time"
)

const defaultContentType = "application/octet-stream"

// ContentInfo describes an entry's content as reported by its origin.
type ContentInfo struct {
	Type                     string `json:"type"`
	TotalLength              int64  `json:"totalLength"`
	ByteRangeAccessSupported bool   `json:"byteRangeAccessSupported"`
}

// DefaultContentInfo is the content info of an entry before anything
// is known about it.
func DefaultContentInfo() ContentInfo {
	return ContentInfo{
		Type:                     defaultContentType,
		ByteRangeAccessSupported: true,
	}
}

// contentTypeFor guesses a MIME type from the extension of the origin
// URL's path.
func contentTypeFor(origin string) string {
	if typ := mime.TypeByExtension(path.Ext(urlPath(origin))); typ != "" {
		return typ
	}
	return defaultContentType
}

// urlPath returns the path part of an origin URL, or "" if it does
// not parse.
func urlPath(origin string) string {
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Path
}

// Config is the metadata of one cache entry, persisted next to its
// data file.
type Config struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
	// DataFile is the base name of the data file within the cache
	// directory.
	DataFile    string      `json:"dataFile"`
	ContentInfo ContentInfo `json:"contentInfo"`
	// Fragments are the byte ranges of the data file that hold
	// valid content.
	Fragments RangeSet  `json:"fragments"`
	LastUsed  time.Time `json:"lastUsed"`
}

func newConfig(key, origin string, now time.Time) *Config {
	info := DefaultContentInfo()
	info.Type = contentTypeFor(origin)
	return &Config{
		Key:         key,
		Origin:      origin,
		ContentInfo: info,
		LastUsed:    now,
	}
}

// NeedsContentInfo reports whether the origin should be asked for the
// content info again; entries shorter than one packet are assumed to
// have been recorded before the length was known.
func (c *Config) NeedsContentInfo() bool {
	return c.ContentInfo.TotalLength < PacketLimit
}

// Cached returns the fraction of the entry's content that is cached.
func (c *Config) Cached() (n, d int64) {
	return c.Fragments.Len(), c.ContentInfo.TotalLength
}
