package analytics

import (
	"net/url"
	"strings"
)

// Environment carries the page and device context the caller observed.
// The relay derives all enrichment metadata from it rather than trusting
// pre-classified fields.
type Environment struct {
	UserAgent      string `json:"user_agent"`
	Language       string `json:"language"`
	TimezoneOffset int    `json:"timezone_offset"`
	ScreenWidth    int    `json:"screen_width"`
	ScreenHeight   int    `json:"screen_height"`
	ViewportWidth  int    `json:"viewport_width"`
	ColorDepth     int    `json:"color_depth"`
	PageURL        string `json:"page_url"`
	PagePath       string `json:"page_path"`
	PageTitle      string `json:"page_title"`
	Referrer       string `json:"referrer"`
}

// OS derives the operating system label from the user agent.
func (e Environment) OS() string {
	ua := e.UserAgent
	switch {
	case strings.Contains(ua, "Win"):
		return "Windows"
	case strings.Contains(ua, "Mac"):
		return "MacOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	}
	return "Unknown"
}

// Browser derives the browser label from the user agent. Chrome is
// checked before Safari because Chrome UAs also claim Safari.
func (e Environment) Browser() string {
	ua := e.UserAgent
	switch {
	case strings.Contains(ua, "Edge"):
		return "Edge"
	case strings.Contains(ua, "Chrome"):
		return "Chrome"
	case strings.Contains(ua, "Safari"):
		return "Safari"
	case strings.Contains(ua, "Firefox"):
		return "Firefox"
	}
	return "Unknown"
}

// Device classifies the device by user agent, falling back to viewport
// width breakpoints.
func (e Environment) Device() string {
	ua := e.UserAgent
	switch {
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPod"):
		return "Mobile"
	case strings.Contains(ua, "iPad"):
		return "Tablet"
	case strings.Contains(ua, "Android"):
		if strings.Contains(ua, "Mobile") {
			return "Mobile"
		}
		return "Tablet"
	}
	if e.ViewportWidth > 0 {
		if e.ViewportWidth < 768 {
			return "Mobile"
		}
		if e.ViewportWidth < 1024 {
			return "Tablet"
		}
	}
	return "Desktop"
}

// ReferrerSource maps the referrer to a traffic source: a known
// provider name, the bare hostname, or "direct".
func ReferrerSource(referrer string) string {
	if referrer == "" || referrer == "Direct" {
		return "direct"
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return "other"
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "google"):
		return "google"
	case strings.Contains(host, "facebook"):
		return "facebook"
	case strings.Contains(host, "twitter"):
		return "twitter"
	case strings.Contains(host, "github"):
		return "github"
	}
	return host
}

// ReferrerMedium maps the referrer to a traffic medium.
func ReferrerMedium(referrer string) string {
	if referrer == "" || referrer == "Direct" {
		return "none"
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "google"):
		return "organic"
	case strings.Contains(host, "facebook"), strings.Contains(host, "twitter"), strings.Contains(host, "linkedin"):
		return "social"
	}
	return "referral"
}
