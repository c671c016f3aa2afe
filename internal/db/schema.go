package db

// migration is one versioned schema change. Statements run inside a single
// transaction together with the ledger insert.
type migration struct {
	version int
	name    string
	stmts   string
}

// ledgerDDL bootstraps the migration ledger itself. It is the only DDL that
// runs outside a versioned migration.
const ledgerDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version    INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`

// ftsTriggers keeps doc_fts in sync with its external content table.
const ftsTriggers = `
CREATE TRIGGER doc_content_ai AFTER INSERT ON doc_content BEGIN
  INSERT INTO doc_fts(rowid, primary_text, secondary_text, title)
  VALUES (new.id, new.primary_text, new.secondary_text, new.title);
END;

CREATE TRIGGER doc_content_ad AFTER DELETE ON doc_content BEGIN
  INSERT INTO doc_fts(doc_fts, rowid, primary_text, secondary_text, title)
  VALUES ('delete', old.id, old.primary_text, old.secondary_text, old.title);
END;

CREATE TRIGGER doc_content_au AFTER UPDATE ON doc_content BEGIN
  INSERT INTO doc_fts(doc_fts, rowid, primary_text, secondary_text, title)
  VALUES ('delete', old.id, old.primary_text, old.secondary_text, old.title);
  INSERT INTO doc_fts(rowid, primary_text, secondary_text, title)
  VALUES (new.id, new.primary_text, new.secondary_text, new.title);
END;
`

// migrations is the ordered list of schema versions. Append only: never edit
// a migration that has shipped.
var migrations = []migration{
	{
		version: 1,
		name:    "core tables",
		stmts: `
CREATE TABLE segment (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  bundle_id   TEXT NOT NULL,
  window_name TEXT,
  browser_url TEXT,
  display_id  INTEGER NOT NULL DEFAULT 0,
  start_date  NOT NULL,
  end_date
);
CREATE INDEX idx_segment_start ON segment(start_date);
CREATE INDEX idx_segment_bundle ON segment(bundle_id, start_date);

CREATE TABLE video (
  id               INTEGER PRIMARY KEY AUTOINCREMENT,
  width            INTEGER NOT NULL,
  height           INTEGER NOT NULL,
  path             TEXT NOT NULL,
  file_size        INTEGER NOT NULL DEFAULT 0,
  frame_rate       REAL NOT NULL DEFAULT 0,
  processing_state TEXT NOT NULL DEFAULT 'recording'
                   CHECK (processing_state IN ('recording', 'finalized', 'failed')),
  created_at       NOT NULL
);

CREATE TABLE frame (
  id                INTEGER PRIMARY KEY AUTOINCREMENT,
  created_at        NOT NULL,
  segment_id        INTEGER REFERENCES segment(id) ON DELETE SET NULL,
  video_id          INTEGER REFERENCES video(id) ON DELETE SET NULL,
  video_frame_index INTEGER,
  is_starred        INTEGER NOT NULL DEFAULT 0,
  encoding_status   TEXT NOT NULL DEFAULT 'pending'
                    CHECK (encoding_status IN ('pending', 'success', 'failed'))
);
CREATE INDEX idx_frame_created ON frame(created_at);
CREATE INDEX idx_frame_segment ON frame(segment_id, created_at);
CREATE INDEX idx_frame_video ON frame(video_id, video_frame_index);

CREATE TABLE node (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  frame_id    INTEGER NOT NULL REFERENCES frame(id) ON DELETE CASCADE,
  node_order  INTEGER NOT NULL,
  text_offset INTEGER NOT NULL CHECK (text_offset >= 0),
  text_length INTEGER NOT NULL CHECK (text_length >= 0),
  left_x      REAL NOT NULL CHECK (left_x BETWEEN 0 AND 1),
  top_y       REAL NOT NULL CHECK (top_y BETWEEN 0 AND 1),
  width       REAL NOT NULL CHECK (width BETWEEN 0 AND 1),
  height      REAL NOT NULL CHECK (height BETWEEN 0 AND 1)
);
CREATE UNIQUE INDEX idx_node_frame_order ON node(frame_id, node_order);

CREATE TABLE tag (
  id   INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE
);

CREATE TABLE segment_tag (
  segment_id INTEGER NOT NULL REFERENCES segment(id) ON DELETE CASCADE,
  tag_id     INTEGER NOT NULL REFERENCES tag(id) ON DELETE CASCADE,
  PRIMARY KEY (segment_id, tag_id)
);
CREATE INDEX idx_segment_tag_tag ON segment_tag(tag_id);

CREATE TABLE doc_content (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  primary_text   TEXT NOT NULL DEFAULT '',
  secondary_text TEXT NOT NULL DEFAULT '',
  title          TEXT NOT NULL DEFAULT ''
);

CREATE VIRTUAL TABLE doc_fts USING fts5(
  primary_text, secondary_text, title,
  content='doc_content', content_rowid='id'
);
` + ftsTriggers,
	},
	{
		version: 2,
		name:    "doc_segment junction",
		stmts: `
CREATE TABLE doc_segment (
  doc_id     INTEGER PRIMARY KEY REFERENCES doc_content(id) ON DELETE CASCADE,
  segment_id INTEGER REFERENCES segment(id) ON DELETE SET NULL,
  frame_id   INTEGER NOT NULL UNIQUE REFERENCES frame(id) ON DELETE CASCADE
);
CREATE INDEX idx_doc_segment_segment ON doc_segment(segment_id);

-- Content has no meaning without its frame: dropping the link drops the text.
CREATE TRIGGER doc_segment_ad AFTER DELETE ON doc_segment BEGIN
  DELETE FROM doc_content WHERE id = old.doc_id;
END;
`,
	},
	{
		version: 3,
		name:    "processing queue",
		stmts: `
ALTER TABLE frame ADD COLUMN processing_status TEXT NOT NULL DEFAULT 'pending'
  CHECK (processing_status IN ('pending', 'processing', 'completed', 'failed', 'skipped'));
CREATE INDEX idx_frame_processing_status ON frame(processing_status);

CREATE TABLE processing_queue (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  frame_id    INTEGER NOT NULL UNIQUE REFERENCES frame(id) ON DELETE CASCADE,
  enqueued_at INTEGER NOT NULL,
  priority    INTEGER NOT NULL DEFAULT 0,
  retry_count INTEGER NOT NULL DEFAULT 0,
  last_error  TEXT
);
CREATE INDEX idx_queue_order ON processing_queue(priority DESC, enqueued_at ASC, id ASC);
`,
	},
	{
		version: 4,
		name:    "uuid mapping",
		stmts: `
CREATE TABLE uuid_mapping (
  entity_type TEXT NOT NULL CHECK (entity_type IN ('segment', 'frame', 'video')),
  external_id TEXT NOT NULL,
  internal_id INTEGER NOT NULL,
  created_at  INTEGER NOT NULL,
  PRIMARY KEY (entity_type, external_id),
  UNIQUE (entity_type, internal_id)
);
`,
	},
	{
		version: 5,
		name:    "fts tokenizer rebuild",
		stmts: `
DROP TRIGGER doc_content_ai;
DROP TRIGGER doc_content_ad;
DROP TRIGGER doc_content_au;
DROP TABLE doc_fts;

CREATE VIRTUAL TABLE doc_fts USING fts5(
  primary_text, secondary_text, title,
  content='doc_content', content_rowid='id',
  tokenize='unicode61 remove_diacritics 2',
  prefix='2 3'
);
` + ftsTriggers + `
INSERT INTO doc_fts(doc_fts) VALUES ('rebuild');
`,
	},
	{
		version: 6,
		name:    "video_segment junction",
		stmts: `
CREATE TABLE video_segment (
  video_id   INTEGER NOT NULL REFERENCES video(id) ON DELETE CASCADE,
  segment_id INTEGER NOT NULL REFERENCES segment(id) ON DELETE CASCADE,
  PRIMARY KEY (video_id, segment_id)
);
CREATE INDEX idx_video_segment_segment ON video_segment(segment_id);
`,
	},
}

// LatestVersion returns the highest schema version this build knows.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}
