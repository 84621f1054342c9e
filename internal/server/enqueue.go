package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/bryan-buckman/roadtrip/internal/logging"
	"github.com/bryan-buckman/roadtrip/internal/media"
	"github.com/bryan-buckman/roadtrip/internal/model"
)

const maxUploadMemory = 32 << 20

// unitFromForm builds a content unit from the enqueue form, without media.
// Tags are comma separated; each "comments" value is one paragraph.
func unitFromForm(r *http.Request) model.ContentUnit {
	unit := model.ContentUnit{
		Flashing: formBool(r.FormValue("flashing")),
		Tags:     lo.Uniq(cleanList(strings.Split(r.FormValue("tags"), ","))),
		Comments: cleanList(r.Form["comments"]),
	}
	title := strings.TrimSpace(r.FormValue("map_title"))
	author := strings.TrimSpace(r.FormValue("map_author"))
	source := strings.TrimSpace(r.FormValue("map_url"))
	if title != "" || author != "" || source != "" {
		unit.MapInfo = &model.MapInfo{Title: title, Author: author, SourceURL: source}
	}
	return unit
}

func cleanList(values []string) []string {
	return lo.FilterMap(values, func(v string, _ int) (string, bool) {
		v = strings.TrimSpace(v)
		return v, v != ""
	})
}

func formBool(v string) bool {
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	unit := unitFromForm(r)
	if err := unit.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var saved []string
	rollback := func() {
		for _, ref := range saved {
			if err := s.media.Remove(ref); err != nil {
				s.logger.WithError(err).WithField("ref", ref).Warn("Failed to remove media after aborted enqueue")
			}
		}
	}

	for _, fh := range r.MultipartForm.File["media"] {
		f, err := fh.Open()
		if err != nil {
			rollback()
			s.internalError(w, r, "open upload", err)
			return
		}
		ref, err := s.media.Save(f)
		f.Close()
		if errors.Is(err, media.ErrUnsupportedType) {
			rollback()
			writeError(w, http.StatusBadRequest, fh.Filename+": "+err.Error())
			return
		}
		if err != nil {
			rollback()
			s.internalError(w, r, "save upload", err)
			return
		}
		saved = append(saved, ref)
	}
	unit.Media = saved

	id, err := s.db.InsertContentUnit(r.Context(), unit)
	if err != nil {
		rollback()
		s.internalError(w, r, "insert content unit", err)
		return
	}

	user, _ := UserFromContext(r.Context())
	s.logger.WithFields(logging.Fields{
		"unit_id": id,
		"media":   len(unit.Media),
		"user":    user.Username,
	}).Info("Unit enqueued")
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}
