package tumblr

import "math/rand/v2"

// blurbs prefix a map's title in the post heading.
var blurbs = []string{
	"stopped at: ",
	"stopped in: ",
	"broke down at: ",
	"broke down in: ",
	"pulled over at: ",
	"pulled over in: ",
	"layover in: ",
	"layover at: ",
	"driving through: ",
	"passing through: ",
	"vacationing in: ",
	"touring: ",
	"today's stop: ",
	"exploring: ",
	"got lost in: ",
	"visiting: ",
	"arrived at: ",
	"arrived in: ",
}

// RandomBlurb picks a blurb uniformly at random.
func RandomBlurb() string {
	return blurbs[rand.IntN(len(blurbs))]
}
