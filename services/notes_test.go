package services

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"notekeeper/models"
	"notekeeper/testutil"
)

func pngFile(t *testing.T, name string) IncomingFile {
	t.Helper()
	return IncomingFile{Name: name, Reader: bytes.NewReader(testutil.PNG(t))}
}

func TestCreateNoteRequiresContentOrImage(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	group := mustCreateGroup(t, env, alice, "Shoes")

	_, err := env.Notes.Create(contextOf(alice), NoteInput{Content: "   ", Date: "2024-03-01", GroupID: group.ID})
	assertKind(t, err, KindValidation)
	if !errors.Is(err, ErrEmptyNote) {
		t.Errorf("Expected ErrEmptyNote, got %v", err)
	}

	// a file part without a name is not an image
	_, err = env.Notes.Create(contextOf(alice), NoteInput{
		Date:    "2024-03-01",
		GroupID: group.ID,
		Files:   []IncomingFile{{Name: "", Reader: strings.NewReader("")}},
	})
	if !errors.Is(err, ErrEmptyNote) {
		t.Errorf("Expected ErrEmptyNote for empty file part, got %v", err)
	}

	if n := countRows(t, env.DB, &models.Note{}, "1 = 1"); n != 0 {
		t.Errorf("No note should be stored, found %d", n)
	}
}

func TestCreateNoteValidation(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	bob := testutil.CreateUser(t, env.DB, "bob", models.RoleUser, models.StatusApproved, nil)
	group := mustCreateGroup(t, env, alice, "Shoes")
	bobsGroup := mustCreateGroup(t, env, bob, "Bags")

	tests := []struct {
		name string
		in   NoteInput
		want Kind
	}{
		{"missing date", NoteInput{Content: "x", GroupID: group.ID}, KindValidation},
		{"bad date", NoteInput{Content: "x", Date: "01/03/2024", GroupID: group.ID}, KindValidation},
		{"missing group", NoteInput{Content: "x", Date: "2024-03-01"}, KindValidation},
		{"foreign group", NoteInput{Content: "x", Date: "2024-03-01", GroupID: bobsGroup.ID}, KindForbidden},
		{"disallowed file", NoteInput{
			Date:    "2024-03-01",
			GroupID: group.ID,
			Files:   []IncomingFile{{Name: "run.exe", Reader: strings.NewReader("MZ")}},
		}, KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Notes.Create(contextOf(alice), tt.in)
			assertKind(t, err, tt.want)
		})
	}
}

func TestCreateNoteWithImages(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	rc := contextOf(alice)
	group := mustCreateGroup(t, env, alice, "Shoes")

	merged := writeStored(t, env.Files, rc, "merged.jpg", []byte("jpeg"))

	note, err := env.Notes.Create(rc, NoteInput{
		Content: " hello ",
		Date:    "2024-03-01",
		GroupID: group.ID,
		Files:   []IncomingFile{pngFile(t, "photo one.png")},
		Chunks:  []ChunkRef{{Filename: merged, OriginalFilename: "merged.jpg"}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if note.Content != "hello" {
		t.Errorf("Expected trimmed content, got %q", note.Content)
	}
	if note.GroupName != "Shoes" || note.Author != "alice" {
		t.Errorf("Expected group name and author, got %q / %q", note.GroupName, note.Author)
	}
	if len(note.Images) != 2 {
		t.Fatalf("Expected 2 images, got %d", len(note.Images))
	}
	if note.Images[0].Filename != merged {
		t.Errorf("Chunk reference should be attached first, got %s", note.Images[0].Filename)
	}
	direct := note.Images[1]
	if direct.OriginalFilename != "photo_one.png" {
		t.Errorf("Expected sanitized original name, got %s", direct.OriginalFilename)
	}
	if !strings.HasPrefix(direct.Filename, "alice/1_") || !strings.HasSuffix(direct.Filename, "_photo_one.png") {
		t.Errorf("Unexpected stored name %s", direct.Filename)
	}
	if !env.Files.Exists(direct.Filename) {
		t.Errorf("Stored file %s missing", direct.Filename)
	}
}

func TestCreateNoteRejectsForeignChunkRefs(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	bob := testutil.CreateUser(t, env.DB, "bob", models.RoleUser, models.StatusApproved, nil)
	rc := contextOf(alice)
	group := mustCreateGroup(t, env, alice, "Shoes")

	bobsFile := writeStored(t, env.Files, contextOf(bob), "b.png", []byte("png"))
	script := writeStored(t, env.Files, rc, "x.html", []byte("<script>"))

	refs := []string{
		bobsFile,
		script,
		"alice/../bob/" + strings.TrimPrefix(bobsFile, "bob/"),
		"alice/missing.png",
		"/etc/passwd",
	}
	for _, ref := range refs {
		t.Run(ref, func(t *testing.T) {
			_, err := env.Notes.Create(rc, NoteInput{
				Date:    "2024-03-01",
				GroupID: group.ID,
				Chunks:  []ChunkRef{{Filename: ref, OriginalFilename: "x.png"}},
			})
			assertKind(t, err, KindValidation)
		})
	}

	// a merged file can only back one image row
	merged := writeStored(t, env.Files, rc, "m.png", []byte("png"))
	in := NoteInput{Date: "2024-03-01", GroupID: group.ID, Chunks: []ChunkRef{{Filename: merged}}}
	if _, err := env.Notes.Create(rc, in); err != nil {
		t.Fatalf("First attach failed: %v", err)
	}
	_, err := env.Notes.Create(rc, in)
	assertKind(t, err, KindValidation)
}

func TestListNotesOrderAndFilter(t *testing.T) {
	env := setupEnv(t)
	team := testutil.CreateTeam(t, env.DB, "alpha")
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, &team.ID)
	bob := testutil.CreateUser(t, env.DB, "bob", models.RoleUser, models.StatusApproved, &team.ID)
	carol := testutil.CreateUser(t, env.DB, "carol", models.RoleUser, models.StatusApproved, nil)

	shoes := mustCreateGroup(t, env, alice, "Shoes")
	bags := mustCreateGroup(t, env, bob, "Bags")
	hats := mustCreateGroup(t, env, carol, "Hats")

	create := func(u *models.User, content, date string, groupID uint) {
		t.Helper()
		if _, err := env.Notes.Create(contextOf(u), NoteInput{Content: content, Date: date, GroupID: groupID}); err != nil {
			t.Fatalf("Create %s failed: %v", content, err)
		}
	}
	create(alice, "old", "2024-01-01", shoes.ID)
	create(bob, "new", "2024-02-01", bags.ID)
	create(alice, "same day later", "2024-02-01", shoes.ID)
	create(carol, "private", "2024-03-01", hats.ID)

	notes, err := env.Notes.List(contextOf(bob), nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var got []string
	for _, n := range notes {
		got = append(got, n.Content)
	}
	want := []string{"same day later", "new", "old"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("List order = %v, want %v", got, want)
	}
	if notes[0].Author != "alice" || notes[1].GroupName != "Bags" {
		t.Errorf("Expected joined author and group name, got %+v", notes[:2])
	}

	filtered, err := env.Notes.List(contextOf(bob), &shoes.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("Expected 2 notes in Shoes, got %d", len(filtered))
	}

	// another scope's group id filters to nothing
	foreign, err := env.Notes.List(contextOf(bob), &hats.ID)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(foreign) != 0 {
		t.Errorf("Expected no notes from a foreign group, got %d", len(foreign))
	}
}

func TestUpdateNoteEmptyKeepRemovesImages(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	rc := contextOf(alice)
	group := mustCreateGroup(t, env, alice, "Shoes")

	note, err := env.Notes.Create(rc, NoteInput{
		Date:    "2024-03-01",
		GroupID: group.ID,
		Files:   []IncomingFile{pngFile(t, "a.png"), pngFile(t, "b.png")},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	var paths []string
	for _, img := range note.Images {
		paths = append(paths, absPath(t, env.Files, img.Filename))
	}

	updated, err := env.Notes.Update(rc, note.ID, NoteInput{
		Content:      "text only now",
		Date:         "2024-03-02",
		GroupID:      group.ID,
		KeepImageIDs: []uint{},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if len(updated.Images) != 0 {
		t.Errorf("Expected no images, got %d", len(updated.Images))
	}
	if updated.Content != "text only now" || updated.Date != "2024-03-02" {
		t.Errorf("Fields not updated: %+v", updated)
	}
	for _, p := range paths {
		assertNoFile(t, p)
	}
	if n := countRows(t, env.DB, &models.Image{}, "note_id = ?", note.ID); n != 0 {
		t.Errorf("Expected image rows removed, %d left", n)
	}
}

func TestUpdateNoteKeepsSelectedImages(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	rc := contextOf(alice)
	shoes := mustCreateGroup(t, env, alice, "Shoes")
	bags := mustCreateGroup(t, env, alice, "Bags")

	note, err := env.Notes.Create(rc, NoteInput{
		Date:    "2024-03-01",
		GroupID: shoes.ID,
		Files:   []IncomingFile{pngFile(t, "a.png"), pngFile(t, "b.png")},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	kept, dropped := note.Images[0], note.Images[1]

	updated, err := env.Notes.Update(rc, note.ID, NoteInput{
		Date:         "2024-04-01",
		GroupID:      bags.ID,
		KeepImageIDs: []uint{kept.ID, 424242},
		Files:        []IncomingFile{pngFile(t, "c.png")},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if len(updated.Images) != 2 || updated.Images[0].ID != kept.ID {
		t.Fatalf("Expected kept image plus one new image, got %+v", updated.Images)
	}
	assertNoFile(t, absPath(t, env.Files, dropped.Filename))
	if !env.Files.Exists(kept.Filename) {
		t.Errorf("Kept file removed")
	}

	var img models.Image
	if err := env.DB.First(&img, kept.ID).Error; err != nil {
		t.Fatalf("Kept image row missing: %v", err)
	}
	if img.GroupID != bags.ID || img.Date != "2024-04-01" {
		t.Errorf("Kept image should follow the note, got group %d date %s", img.GroupID, img.Date)
	}
}

func TestUpdateNoteEmptyResultRejected(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	rc := contextOf(alice)
	group := mustCreateGroup(t, env, alice, "Shoes")

	note, err := env.Notes.Create(rc, NoteInput{Date: "2024-03-01", GroupID: group.ID, Files: []IncomingFile{pngFile(t, "a.png")}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = env.Notes.Update(rc, note.ID, NoteInput{Date: "2024-03-01", GroupID: group.ID})
	if !errors.Is(err, ErrEmptyNote) {
		t.Fatalf("Expected ErrEmptyNote, got %v", err)
	}
	if !env.Files.Exists(note.Images[0].Filename) {
		t.Errorf("Rejected update must not touch images")
	}
}

func TestNoteWritesOutsideScope(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	bob := testutil.CreateUser(t, env.DB, "bob", models.RoleUser, models.StatusApproved, nil)
	group := mustCreateGroup(t, env, alice, "Shoes")

	note, err := env.Notes.Create(contextOf(alice), NoteInput{Date: "2024-03-01", GroupID: group.ID, Files: []IncomingFile{pngFile(t, "a.png")}})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	bobRC := contextOf(bob)
	_, err = env.Notes.Update(bobRC, note.ID, NoteInput{Content: "mine", Date: "2024-03-01", GroupID: group.ID})
	assertKind(t, err, KindForbidden)
	assertKind(t, env.Notes.Delete(bobRC, note.ID), KindForbidden)
	assertKind(t, env.Notes.DeleteImage(bobRC, note.ID, note.Images[0].ID), KindForbidden)

	err = env.Notes.Delete(bobRC, 9999)
	if PublicMessage(err) != msgNoteAccess {
		t.Errorf("Absent and foreign notes must share a message, got %q", PublicMessage(err))
	}
	if !env.Files.Exists(note.Images[0].Filename) {
		t.Errorf("Foreign writes must not remove files")
	}
}

func TestDeleteNoteAndImage(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	rc := contextOf(alice)
	group := mustCreateGroup(t, env, alice, "Shoes")

	note, err := env.Notes.Create(rc, NoteInput{
		Content: "x",
		Date:    "2024-03-01",
		GroupID: group.ID,
		Files:   []IncomingFile{pngFile(t, "a.png"), pngFile(t, "b.png")},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	first, second := note.Images[0], note.Images[1]

	// a file already gone from disk is not an error
	if err := env.Files.Remove(first.Filename); err != nil {
		t.Fatal(err)
	}
	if err := env.Notes.DeleteImage(rc, note.ID, first.ID); err != nil {
		t.Fatalf("DeleteImage failed: %v", err)
	}
	assertKind(t, env.Notes.DeleteImage(rc, note.ID, first.ID), KindNotFound)

	if err := env.Notes.Delete(rc, note.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	assertNoFile(t, absPath(t, env.Files, second.Filename))
	if n := countRows(t, env.DB, &models.Image{}, "note_id = ?", note.ID); n != 0 {
		t.Errorf("Expected no image rows, %d left", n)
	}
	_, err = env.Notes.Get(rc, note.ID)
	assertKind(t, err, KindForbidden)
}

func TestImagePathFollowsScope(t *testing.T) {
	env := setupEnv(t)
	alice := testutil.CreateUser(t, env.DB, "alice", models.RoleUser, models.StatusApproved, nil)
	bob := testutil.CreateUser(t, env.DB, "bob", models.RoleUser, models.StatusApproved, nil)
	group := mustCreateGroup(t, env, alice, "Trips")

	note, err := env.Notes.Create(contextOf(alice), NoteInput{
		Date:    "2024-03-01",
		GroupID: group.ID,
		Files:   []IncomingFile{pngFile(t, "beach.png")},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	stored := note.Images[0].Filename
	loose := writeStored(t, env.Files, contextOf(alice), "loose.png", testutil.PNG(t))
	uploadChunks(t, env.Assembler, contextOf(alice), "pending", map[int][]byte{0: []byte("chunk")})

	tests := []struct {
		name string
		rc   RequestContext
		path string
		ok   bool
	}{
		{"owner", contextOf(alice), stored, true},
		{"owner unattached", contextOf(alice), loose, true},
		{"escaped owner path", contextOf(alice), strings.Replace(stored, "/", "%2F", 1), true},
		{"other user", contextOf(bob), stored, false},
		{"other user unattached", contextOf(bob), loose, false},
		{"temp chunk", contextOf(alice), "temp/pending/part_0", false},
		{"escaped temp", contextOf(alice), "%74emp/pending/part_0", false},
		{"dot segments", contextOf(alice), "alice/../temp/pending/part_0", false},
		{"doubled slash", contextOf(alice), "/temp/pending/part_0", false},
		{"nested path", contextOf(alice), "alice/sub/x.png", false},
		{"missing file", contextOf(alice), "alice/nope.png", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full, err := env.Notes.ImagePath(tt.rc, tt.path)
			if !tt.ok {
				assertKind(t, err, KindNotFound)
				return
			}
			if err != nil {
				t.Fatalf("ImagePath(%q) failed: %v", tt.path, err)
			}
			if full != absPath(t, env.Files, strings.Replace(tt.path, "%2F", "/", 1)) {
				t.Errorf("ImagePath(%q) = %s", tt.path, full)
			}
		})
	}
}
