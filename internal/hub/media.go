package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/reedholm/skymirror/internal/backend"
	"github.com/reedholm/skymirror/internal/device"
	"github.com/reedholm/skymirror/internal/storage"
)

// Recording is one entry in the cloud recording index. The URLs are
// presigned and expire; hosts that want the bytes should fetch promptly
// or queue a refresh.
type Recording struct {
	CameraID     string
	Created      time.Time
	ContentType  string
	ObjectName   string
	URL          string
	ThumbnailURL string
}

// Library mirrors the cloud recording index for the configured lookback
// window and keeps each camera's captured-today and last-capture
// attributes current.
type Library struct {
	hub *Controller

	mu     sync.Mutex
	videos []Recording
	tokens map[string]string
}

func newLibrary(h *Controller) *Library {
	return &Library{hub: h, tokens: map[string]string{}}
}

// QueueRefresh schedules a library reload after a delay. Repeat queues
// for the same camera collapse into the latest one, so activity bursts do
// not hammer the index endpoint.
func (l *Library) QueueRefresh(cameraID string, delay time.Duration) {
	l.mu.Lock()
	prev := l.tokens[cameraID]
	l.mu.Unlock()
	if prev != "" {
		l.hub.sched.Cancel(prev)
	}
	token := l.hub.sched.RunIn("media-refresh-"+cameraID, delay, l.Refresh)
	l.mu.Lock()
	l.tokens[cameraID] = token
	l.mu.Unlock()
}

// Refresh reloads the recording index for the lookback window.
func (l *Library) Refresh() {
	days := l.hub.cfg.Media.LibraryDays
	if days <= 0 {
		days = 30
	}
	now := time.Now()
	body := map[string]any{
		"dateFrom": now.AddDate(0, 0, -(days - 1)).Format("20060102"),
		"dateTo":   now.Format("20060102"),
	}
	records, ok := l.hub.be.Post(backend.LibraryPath, body).([]any)
	if !ok {
		l.hub.log.Warn("media library load failed", "error", l.hub.be.LastError())
		return
	}

	videos := parseRecordings(records)
	l.mu.Lock()
	l.videos = videos
	l.mu.Unlock()
	l.hub.log.Debug("media library loaded", "recordings", len(videos))

	l.updateCameraCounts(videos, now)
}

// parseRecordings decodes index rows, newest first.
func parseRecordings(records []any) []Recording {
	videos := make([]Recording, 0, len(records))
	for _, r := range records {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		cameraID, _ := row["deviceId"].(string)
		if cameraID == "" {
			continue
		}
		created := time.Time{}
		if ms, ok := row["localCreatedDate"].(float64); ok {
			created = time.UnixMilli(int64(ms))
		} else if ms, ok := row["utcCreatedDate"].(float64); ok {
			created = time.UnixMilli(int64(ms))
		}
		contentType, _ := row["contentType"].(string)
		name, _ := row["name"].(string)
		url, _ := row["presignedContentUrl"].(string)
		thumb, _ := row["presignedThumbnailUrl"].(string)
		videos = append(videos, Recording{
			CameraID:     cameraID,
			Created:      created,
			ContentType:  contentType,
			ObjectName:   name,
			URL:          url,
			ThumbnailURL: thumb,
		})
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].Created.After(videos[j].Created) })
	return videos
}

// updateCameraCounts pushes per-camera derived attributes into the store.
func (l *Library) updateCameraCounts(videos []Recording, now time.Time) {
	today := map[string]int{}
	newest := map[string]time.Time{}
	y, m, d := now.Date()
	for _, v := range videos {
		vy, vm, vd := v.Created.Date()
		if vy == y && vm == m && vd == d {
			today[v.CameraID]++
		}
		if v.Created.After(newest[v.CameraID]) {
			newest[v.CameraID] = v.Created
		}
	}

	for _, cam := range l.hub.Cameras() {
		id := cam.DeviceID()
		l.hub.store.SetAndNotify(storage.K("camera", id, device.KeyCapturedToday), today[id])
		if last, ok := newest[id]; ok {
			l.hub.store.SetAndNotify(storage.K("camera", id, device.KeyLastCapture), last.Format(time.RFC1123))
		}
	}
}

// Videos returns the mirrored index, newest first.
func (l *Library) Videos() []Recording {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Recording(nil), l.videos...)
}

// VideosFor returns one camera's recordings, newest first.
func (l *Library) VideosFor(cameraID string) []Recording {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Recording
	for _, v := range l.videos {
		if v.CameraID == cameraID {
			out = append(out, v)
		}
	}
	return out
}
