package abr

import (
	"strconv"
	"strings"
)

const qualityDirPrefix = "video"

// DefaultHeaderMarker marks initialization segment requests.
const DefaultHeaderMarker = "Header"

// DefaultExtensions are the media extensions recognized when none are configured.
var DefaultExtensions = []string{".m4s", ".mp4"}

// HeaderIndex maps a quality level to the identity used for its
// initialization segment. The result is always negative and distinct per
// quality, so it never collides with a media index.
func HeaderIndex(maxQuality, quality int) ID {
	return ID(-(maxQuality - quality + 1))
}

// Locator parses request locators that follow the
// [host]/video[raw]/[segment].[ext] convention, where raw quality 1 is the
// highest bitrate and raw quality maxQuality the lowest.
type Locator struct {
	maxQuality   int
	extensions   []string
	headerMarker string
}

// NewLocator returns a Locator. Zero values fall back to the defaults.
func NewLocator(maxQuality int, extensions []string, headerMarker string) *Locator {
	if maxQuality <= 0 {
		maxQuality = DefaultMaxQuality
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if headerMarker == "" {
		headerMarker = DefaultHeaderMarker
	}
	return &Locator{maxQuality: maxQuality, extensions: extensions, headerMarker: headerMarker}
}

// MaxQuality returns the number of quality levels.
func (l *Locator) MaxQuality() int { return l.maxQuality }

// HeaderIndex is HeaderIndex bound to this locator's ladder.
func (l *Locator) HeaderIndex(quality int) ID {
	return HeaderIndex(l.maxQuality, quality)
}

// Classify parses locator into a Segment. Anything that does not follow the
// path convention is KindUnrecognized and must be passed through untouched.
func (l *Locator) Classify(locator string) Segment {
	path, _ := splitSuffix(stripScheme(locator))

	slash := strings.LastIndex(path, "/")
	if slash < 0 {
		return Segment{}
	}
	dir := path[strings.LastIndex(path[:slash], "/")+1 : slash]
	file := path[slash+1:]

	raw, ok := l.rawQuality(dir)
	if !ok {
		return Segment{}
	}
	ext := l.extension(file)
	if ext == "" {
		return Segment{}
	}
	quality := l.maxQuality - raw + 1

	if strings.Contains(file, l.headerMarker) {
		return Segment{Kind: KindHeader, Quality: quality, Index: l.HeaderIndex(quality)}
	}

	n, err := strconv.Atoi(strings.TrimSuffix(file, ext))
	if err != nil || n < 1 {
		return Segment{}
	}
	return Segment{Kind: KindMedia, Quality: quality, Index: ID(n)}
}

// Rewrite returns locator pointed at the given quality level. It reports
// false when locator does not follow the path convention or quality is out
// of range.
func (l *Locator) Rewrite(locator string, quality int) (string, bool) {
	if quality < 1 || quality > l.maxQuality {
		return "", false
	}
	path, suffix := splitSuffix(locator)
	slash := strings.LastIndex(path, "/")
	if slash < 0 {
		return "", false
	}
	start := strings.LastIndex(path[:slash], "/") + 1
	if _, ok := l.rawQuality(path[start:slash]); !ok {
		return "", false
	}
	raw := l.maxQuality - quality + 1
	return path[:start] + qualityDirPrefix + strconv.Itoa(raw) + path[slash:] + suffix, true
}

func (l *Locator) rawQuality(dir string) (int, bool) {
	if !strings.HasPrefix(dir, qualityDirPrefix) {
		return 0, false
	}
	raw, err := strconv.Atoi(dir[len(qualityDirPrefix):])
	if err != nil || raw < 1 || raw > l.maxQuality {
		return 0, false
	}
	return raw, true
}

func (l *Locator) extension(file string) string {
	for _, ext := range l.extensions {
		if strings.HasSuffix(file, ext) && len(file) > len(ext) {
			return ext
		}
	}
	return ""
}

func stripScheme(locator string) string {
	if i := strings.Index(locator, "://"); i >= 0 {
		return locator[i+3:]
	}
	return locator
}

// splitSuffix separates the query string or fragment from the path.
func splitSuffix(locator string) (path, suffix string) {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		return locator[:i], locator[i:]
	}
	return locator, ""
}
