package analysisdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE analysis(
			id INTEGER PRIMARY KEY,
			analysis_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			kind TEXT NOT NULL,
			model TEXT,
			conf_threshold REAL,
			frame_stride INT,
			status TEXT NOT NULL,
			error TEXT,
			created_at INT NOT NULL,
			started_at INT,
			finished_at INT,
			frame_count INT NOT NULL DEFAULT 0,
			sampled_frames INT NOT NULL DEFAULT 0,
			detections INT NOT NULL DEFAULT 0,
			summary BLOB
		);
		CREATE UNIQUE INDEX idx_analysis_analysis_id ON analysis(analysis_id);

		CREATE TABLE class_count(
			id INTEGER PRIMARY KEY,
			analysis_id TEXT NOT NULL,
			class TEXT NOT NULL,
			count INT NOT NULL,
			time INT NOT NULL
		);
		CREATE INDEX idx_class_count_analysis_id ON class_count(analysis_id);
		CREATE INDEX idx_class_count_class ON class_count(class);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE INDEX idx_analysis_status ON analysis(status);
		CREATE INDEX idx_class_count_time ON class_count(time);
	`))

	return migs
}
