package database

import (
	"path/filepath"
	"testing"
	"time"

	"sentrynet/internal/model"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentrynet.db")
	db, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndListEvents(t *testing.T) {
	db := openTestDB(t)

	ev := model.Event{
		ID:         "ev-1",
		SourceID:   "cam-1",
		Type:       model.EventIntrusion,
		Timestamp:  time.Now(),
		Confidence: 0.91,
	}
	if err := db.SaveEvent(ev); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	events, err := db.ListEvents("cam-1", nil, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev-1" {
		t.Fatalf("expected 1 event for cam-1, got %+v", events)
	}

	none, err := db.ListEvents("cam-2", nil, 0)
	if err != nil {
		t.Fatalf("ListEvents other source: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events for cam-2, got %d", len(none))
	}
}

func TestListRecordingsOnlyReturnsEventsWithVideo(t *testing.T) {
	db := openTestDB(t)

	withVideo := model.Event{ID: "ev-1", SourceID: "cam-1", Type: model.EventCustom, Timestamp: time.Now(), VideoPath: "/recordings/cam-1/ev-1.mp4"}
	withoutVideo := model.Event{ID: "ev-2", SourceID: "cam-1", Type: model.EventCustom, Timestamp: time.Now()}

	if err := db.SaveEvent(withVideo); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}
	if err := db.SaveEvent(withoutVideo); err != nil {
		t.Fatalf("SaveEvent: %v", err)
	}

	recordings, err := db.ListRecordings("cam-1", 0)
	if err != nil {
		t.Fatalf("ListRecordings: %v", err)
	}
	if len(recordings) != 1 || recordings[0].ID != "ev-1" {
		t.Fatalf("expected only ev-1 to be listed as a recording, got %+v", recordings)
	}
}

func TestGetEventNotFoundReturnsNil(t *testing.T) {
	db := openTestDB(t)

	ev, err := db.GetEvent("missing")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil for missing event, got %+v", ev)
	}
}

func TestROICRUD(t *testing.T) {
	db := openTestDB(t)

	roi := model.ROI{
		ID:       "roi-1",
		SourceID: "cam-1",
		Name:     "entrance",
		Points:   []model.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}},
		Enabled:  true,
		Priority: 1,
	}
	if err := db.SaveROI(roi); err != nil {
		t.Fatalf("SaveROI: %v", err)
	}

	rois, err := db.ListROIs("cam-1")
	if err != nil {
		t.Fatalf("ListROIs: %v", err)
	}
	if len(rois) != 1 || rois[0].Name != "entrance" {
		t.Fatalf("expected 1 roi named entrance, got %+v", rois)
	}

	if err := db.DeleteROI("roi-1"); err != nil {
		t.Fatalf("DeleteROI: %v", err)
	}
	rois, err = db.ListROIs("cam-1")
	if err != nil {
		t.Fatalf("ListROIs after delete: %v", err)
	}
	if len(rois) != 0 {
		t.Fatalf("expected no rois after delete, got %d", len(rois))
	}
}

func TestCameraConfigRoundTrip(t *testing.T) {
	db := openTestDB(t)

	if err := db.SaveCameraConfig("cam-1", []byte(`{"fps":15}`)); err != nil {
		t.Fatalf("SaveCameraConfig: %v", err)
	}

	got, err := db.GetCameraConfig("cam-1")
	if err != nil {
		t.Fatalf("GetCameraConfig: %v", err)
	}
	if string(got) != `{"fps":15}` {
		t.Fatalf("unexpected config: %s", got)
	}

	missing, err := db.GetCameraConfig("cam-missing")
	if err != nil {
		t.Fatalf("GetCameraConfig missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing config, got %s", missing)
	}

	if err := db.DeleteCameraConfig("cam-1"); err != nil {
		t.Fatalf("DeleteCameraConfig: %v", err)
	}
	all, err := db.ListCameraConfigs()
	if err != nil {
		t.Fatalf("ListCameraConfigs: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no camera configs after delete, got %d", len(all))
	}
}
