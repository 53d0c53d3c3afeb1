package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"airadio/bus"
	"airadio/ingest"
	"airadio/logger"
	"airadio/model"
	"airadio/repository"
	"airadio/storage"
)

// apiHandler holds the collaborators every REST endpoint reads from or
// writes through. Handlers are plain methods rather than closures,
// mirroring the teacher's APIHandler shape.
type apiHandler struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *apiHandler) getNow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Meta.Now())
}

func (a *apiHandler) getNext(w http.ResponseWriter, r *http.Request) {
	next := a.deps.Meta.Next()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit >= 0 && limit < len(next.Entries) {
			next.Entries = next.Entries[:limit]
		}
	}
	writeJSON(w, http.StatusOK, next)
}

func (a *apiHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	var before int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			before = n
		}
	}

	events, err := a.deps.Store.History(r.Context(), limit, before)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

const defaultCoverKey = "defaults/cover.jpg"

func (a *apiHandler) getCover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filePath := q.Get("file")
	var key string
	switch {
	case filePath != "":
		key = model.ArtworkKey(filePath, "")
	case q.Get("artist") != "":
		key = model.ArtworkKey(q.Get("artist"), q.Get("album"))
	default:
		writeError(w, http.StatusBadRequest, "file or artist is required")
		return
	}

	ctx := r.Context()
	entry, found, err := a.deps.Store.GetArtwork(ctx, key)
	objectKey := defaultCoverKey
	if err == nil && found {
		objectKey = entry.LocalPath
	}

	data, err := storage.GetBytes(ctx, objectKey)
	if err != nil && !found && filePath != "" {
		if fetched, ferr := fetchAndCacheCover(ctx, a.deps.Store, a.deps.Cfg.MediaRoot, key, filePath); ferr == nil {
			objectKey = fetched.LocalPath
			data, err = storage.GetBytes(ctx, objectKey)
		} else {
			logger.Warn("cover fetch-and-cache failed", logger.String("key", key), logger.ErrorField(ferr))
		}
	}
	if err != nil && objectKey != defaultCoverKey {
		data, err = storage.GetBytes(ctx, defaultCoverKey)
		objectKey = defaultCoverKey
	}
	if err != nil {
		writeError(w, http.StatusNotFound, "cover not found")
		return
	}

	w.Header().Set("Content-Type", contentTypeForPath(objectKey))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

func contentTypeForPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	default:
		return "image/jpeg"
	}
}

type eventRequest struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Album   string `json:"album,omitempty"`
	URI     string `json:"uri,omitempty"`
	EpochMs int64  `json:"epoch_ms,omitempty"`
}

func (a *apiHandler) postEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	title := normalizeField(req.Title)
	artist := normalizeField(req.Artist)
	if title == "" || artist == "" {
		writeError(w, http.StatusBadRequest, "title and artist are required")
		return
	}

	kind := model.KindSong
	if strings.EqualFold(req.Kind, string(model.KindDJ)) {
		kind = model.KindDJ
	}

	deduped, err := a.deps.Ingestor.IngestEvent(r.Context(), ingest.Input{
		Kind:      kind,
		Title:     title,
		Artist:    artist,
		Album:     normalizeField(req.Album),
		SourceURI: strings.TrimSpace(req.URI),
		EpochMs:   clampEpochMs(req.EpochMs, time.Now()),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deduped": deduped})
}

type enqueueRequest struct {
	File    string `json:"file"`
	Title   string `json:"title,omitempty"`
	Artist  string `json:"artist,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// postEnqueue pushes an already-produced audio file straight onto the
// engine's queue, bypassing the generation pipeline entirely -- for
// operator-supplied or pre-recorded segments.
func (a *apiHandler) postEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.File) == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	if err := a.deps.Eng.EnqueueTTS(r.Context(), req.File); err != nil {
		writeError(w, http.StatusBadGateway, "engine enqueue failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enqueued"})
}

type ttsQueueRequest struct {
	Text        string `json:"text"`
	AudioURL    string `json:"audio_url"`
	TrackTitle  string `json:"track_title,omitempty"`
	TrackArtist string `json:"track_artist,omitempty"`
}

// postTTSQueue registers an externally produced intro: it downloads the
// referenced audio, persists it alongside its transcript, and commits a
// kind=dj PlayEvent linked to the new TTSArtifact in one pass, matching
// spec's "Creates a DJ PlayEvent + TTSArtifact atomically" contract as
// closely as a two-write (store, then commit) sequence allows.
func (a *apiHandler) postTTSQueue(w http.ResponseWriter, r *http.Request) {
	var req ttsQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Text) == "" || strings.TrimSpace(req.AudioURL) == "" {
		writeError(w, http.StatusBadRequest, "text and audio_url are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.deps.Cfg.HTTPTimeout)
	defer cancel()

	audio, err := fetchAudio(ctx, req.AudioURL)
	if err != nil {
		writeError(w, http.StatusBadGateway, "could not fetch audio_url")
		return
	}

	nowMs := time.Now().UnixMilli()
	title := normalizeField(req.TrackTitle)
	artist := normalizeField(req.TrackArtist)

	audioKey := fmt.Sprintf("dj/external-%d.mp3", nowMs)
	transcriptKey := fmt.Sprintf("dj/external-%d.txt", nowMs)
	if _, err := storage.PutBytes(ctx, audioKey, audio, "audio/mpeg"); err != nil {
		writeError(w, http.StatusInternalServerError, "audio persist failed")
		return
	}
	if _, err := storage.PutBytes(ctx, transcriptKey, []byte(req.Text), "text/plain"); err != nil {
		writeError(w, http.StatusInternalServerError, "transcript persist failed")
		return
	}

	artifact := &model.TTSArtifact{
		EpochMs:        nowMs,
		Text:           req.Text,
		AudioPath:      audioKey,
		TranscriptPath: transcriptKey,
		TrackTitle:     title,
		TrackArtist:    artist,
		Mode:           model.ModeCustom,
		SizeBytes:      int64(len(audio)),
	}
	ttsID, err := a.deps.Store.RegisterTTS(ctx, artifact)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "register tts failed")
		return
	}
	if err := a.deps.Store.MarkTTS(ctx, ttsID, model.TTSReady); err != nil {
		writeError(w, http.StatusInternalServerError, "mark tts ready failed")
		return
	}

	ev := &model.PlayEvent{
		Kind:    model.KindDJ,
		EpochMs: nowMs,
		Title:   title,
		Artist:  artist,
		TTSID:   &ttsID,
	}
	if _, err := a.deps.Store.CommitPlayEvent(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			writeJSON(w, http.StatusOK, map[string]bool{"deduped": true})
			return
		}
		writeError(w, http.StatusInternalServerError, "commit event failed")
		return
	}

	a.deps.Bus.Publish(bus.TopicTrackChanged, model.TrackRef{Title: title, Artist: artist})
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ttsId": ttsID})
}

func fetchAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio_url returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

// postSkip returns 202 immediately and runs the engine skip in the
// background, per spec's "Returns 202 immediately" note.
func (a *apiHandler) postSkip(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.deps.Cfg.EngineEnqTimeout)
		defer cancel()
		if err := a.deps.Eng.Skip(ctx); err != nil {
			logger.Warn("engine skip failed", logger.ErrorField(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type healthResponse struct {
	OK               bool   `json:"ok"`
	Engine           string `json:"engine"`
	Store            string `json:"store"`
	Subscribers      int    `json:"subscribers"`
	SchedulerPending int    `json:"schedulerPending"`
}

func (a *apiHandler) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	engineStatus := "ok"
	if _, err := a.deps.Eng.Now(ctx); err != nil {
		engineStatus = "unreachable"
	}
	storeStatus := "ok"
	if _, err := a.deps.Store.History(ctx, 1, 0); err != nil {
		storeStatus = "unreachable"
	}

	resp := healthResponse{
		OK:               engineStatus == "ok" && storeStatus == "ok",
		Engine:           engineStatus,
		Store:            storeStatus,
		Subscribers:      a.deps.Bus.SubscriberCount(),
		SchedulerPending: a.deps.Sched.Pending(),
	}
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
