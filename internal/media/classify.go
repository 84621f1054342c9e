// Package media classifies media references and manages the media directory.
package media

import (
	"strings"

	"github.com/samber/lo"
)

// Kind is the platform-relevant type of a media file.
type Kind int

const (
	Image Kind = iota
	Video
)

func (k Kind) String() string {
	if k == Video {
		return "video"
	}
	return "image"
}

// Classifier decides whether a media reference is an image or a video.
type Classifier interface {
	Classify(ref string) Kind
}

// ExtensionClassifier treats references ending in one of VideoExts as video
// and everything else as an image. Matching is case-sensitive; stored media
// always carries the lowercase extension chosen at upload.
type ExtensionClassifier struct {
	VideoExts []string
}

// DefaultClassifier only knows about .mp4 video.
var DefaultClassifier Classifier = ExtensionClassifier{VideoExts: []string{".mp4"}}

// Classify implements Classifier.
func (c ExtensionClassifier) Classify(ref string) Kind {
	for _, ext := range c.VideoExts {
		if strings.HasSuffix(ref, ext) {
			return Video
		}
	}
	return Image
}

// Partition splits refs into images and videos, keeping relative order in both.
func Partition(c Classifier, refs []string) (images, videos []string) {
	isVideo := func(ref string, _ int) bool { return c.Classify(ref) == Video }
	return lo.Reject(refs, isVideo), lo.Filter(refs, isVideo)
}

// ContainsVideo reports whether any of refs is a video.
func ContainsVideo(c Classifier, refs []string) bool {
	return lo.SomeBy(refs, func(ref string) bool { return c.Classify(ref) == Video })
}
