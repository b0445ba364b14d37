// Command logdump decodes gateway binary log segments for offline
// analysis, emitting CSV or loading a SQLite database.
package main

import (
	"database/sql"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/rover.gateway/internal/binlog"
	"github.com/banshee-data/rover.gateway/internal/robot"
)

var (
	csvPath    = flag.String("csv", "", "write decoded records as CSV to this path (- for stdout)")
	sqlitePath = flag.String("sqlite", "", "load decoded records into this SQLite database")
)

// sink receives decoded records.
type sink interface {
	state(h binlog.RecordHeader, s robot.StateSample) error
	cmd(h binlog.RecordHeader, s robot.MotorCommandsSample) error
	event(h binlog.RecordHeader, s robot.EventSample) error
	close() error
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: logdump [--csv out.csv | --sqlite out.db] segment.bin [segment.bin...]")
		os.Exit(2)
	}

	var out sink
	var err error
	switch {
	case *sqlitePath != "":
		out, err = newSQLiteSink(*sqlitePath)
	case *csvPath != "":
		out, err = newCSVSink(*csvPath)
	default:
		out, err = newCSVSink("-")
	}
	if err != nil {
		log.Fatalf("open output: %v", err)
	}

	var total, skipped int
	for _, path := range flag.Args() {
		t, s, err := dumpSegment(path, out)
		if err != nil {
			log.Fatalf("%s: %v", path, err)
		}
		total += t
		skipped += s
	}

	if err := out.close(); err != nil {
		log.Fatalf("close output: %v", err)
	}
	log.Printf("decoded %d records (%d skipped)", total, skipped)
}

// dumpSegment streams one segment into the sink. Records whose payload
// length does not match their type are skipped, not fatal.
func dumpSegment(path string, out sink) (total, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	if err := binlog.ReadFileHeader(f); err != nil {
		return 0, 0, err
	}

	for {
		h, payload, err := binlog.ReadRecord(f)
		if err == io.EOF {
			return total, skipped, nil
		}
		if err != nil {
			// A truncated trailing record is expected when the gateway
			// died mid-write; stop cleanly.
			log.Printf("%s: %v", path, err)
			return total, skipped, nil
		}

		if int(h.PayloadLen) != binlog.ExpectedPayloadSize(h.Type) {
			skipped++
			continue
		}

		switch h.Type {
		case binlog.RecordState:
			s, err := robot.DecodeStateSample(payload)
			if err != nil {
				skipped++
				continue
			}
			err = out.state(h, s)
			if err != nil {
				return total, skipped, err
			}
		case binlog.RecordCmd:
			s, err := robot.DecodeMotorCommandsSample(payload)
			if err != nil {
				skipped++
				continue
			}
			err = out.cmd(h, s)
			if err != nil {
				return total, skipped, err
			}
		case binlog.RecordEvent:
			s, err := robot.DecodeEventSample(payload)
			if err != nil {
				skipped++
				continue
			}
			err = out.event(h, s)
			if err != nil {
				return total, skipped, err
			}
		default:
			skipped++
			continue
		}
		total++
	}
}

// csvSink writes one wide CSV with type-specific columns left empty.
type csvSink struct {
	f *os.File
	w *csv.Writer
}

func newCSVSink(path string) (*csvSink, error) {
	var f *os.File
	if path == "-" {
		f = os.Stdout
	} else {
		var err error
		f, err = os.Create(path)
		if err != nil {
			return nil, err
		}
	}

	s := &csvSink{f: f, w: csv.NewWriter(f)}
	header := []string{
		"type", "epoch_s", "mono_s", "seq",
		"acc_x", "acc_y", "acc_z", "gyro_x", "gyro_y", "gyro_z",
		"mag_x", "mag_y", "mag_z", "roll", "pitch", "yaw",
		"e1", "e2", "e3", "e4", "battery_v",
		"m1", "m2", "m3", "m4",
		"event_type", "data0", "data1", "data2", "data3", "aux",
	}
	if err := s.w.Write(header); err != nil {
		return nil, err
	}
	return s, nil
}

func ff(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
func fd(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
func fi(v int64) string   { return strconv.FormatInt(v, 10) }

func (s *csvSink) row(kind string, ts robot.Timestamps, seq uint32, cols map[int]string) error {
	rec := make([]string, 31)
	rec[0] = kind
	rec[1] = fd(ts.EpochS)
	rec[2] = fd(ts.MonoS)
	rec[3] = fi(int64(seq))
	for i, v := range cols {
		rec[i] = v
	}
	return s.w.Write(rec)
}

func (s *csvSink) state(_ binlog.RecordHeader, smp robot.StateSample) error {
	st := smp.States
	return s.row("state", smp.TS, smp.Seq, map[int]string{
		4: ff(st.IMU.Acc.X), 5: ff(st.IMU.Acc.Y), 6: ff(st.IMU.Acc.Z),
		7: ff(st.IMU.Gyro.X), 8: ff(st.IMU.Gyro.Y), 9: ff(st.IMU.Gyro.Z),
		10: ff(st.IMU.Mag.X), 11: ff(st.IMU.Mag.Y), 12: ff(st.IMU.Mag.Z),
		13: ff(st.Angles.Roll), 14: ff(st.Angles.Pitch), 15: ff(st.Angles.Yaw),
		16: fi(int64(st.Encoders.E1)), 17: fi(int64(st.Encoders.E2)),
		18: fi(int64(st.Encoders.E3)), 19: fi(int64(st.Encoders.E4)),
		20: ff(st.BatteryVoltage),
	})
}

func (s *csvSink) cmd(_ binlog.RecordHeader, smp robot.MotorCommandsSample) error {
	return s.row("cmd", smp.TS, smp.Seq, map[int]string{
		21: fi(int64(smp.Motors.M1)), 22: fi(int64(smp.Motors.M2)),
		23: fi(int64(smp.Motors.M3)), 24: fi(int64(smp.Motors.M4)),
	})
}

func (s *csvSink) event(_ binlog.RecordHeader, smp robot.EventSample) error {
	ev := smp.Event
	return s.row("event", smp.TS, ev.Seq, map[int]string{
		25: ev.Type.String(),
		26: fi(int64(ev.Data0)), 27: fi(int64(ev.Data1)),
		28: fi(int64(ev.Data2)), 29: fi(int64(ev.Data3)),
		30: fi(int64(ev.Aux)),
	})
}

func (s *csvSink) close() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if s.f == os.Stdout {
		return nil
	}
	return s.f.Close()
}

// sqliteSink loads records into three tables inside one transaction.
type sqliteSink struct {
	db *sql.DB
	tx *sql.Tx
}

const schema = `
CREATE TABLE IF NOT EXISTS states (
	epoch_s REAL, mono_s REAL, seq INTEGER,
	acc_x REAL, acc_y REAL, acc_z REAL,
	gyro_x REAL, gyro_y REAL, gyro_z REAL,
	mag_x REAL, mag_y REAL, mag_z REAL,
	roll REAL, pitch REAL, yaw REAL,
	e1 INTEGER, e2 INTEGER, e3 INTEGER, e4 INTEGER,
	battery_v REAL
);
CREATE TABLE IF NOT EXISTS commands (
	epoch_s REAL, mono_s REAL, seq INTEGER,
	m1 INTEGER, m2 INTEGER, m3 INTEGER, m4 INTEGER
);
CREATE TABLE IF NOT EXISTS events (
	epoch_s REAL, mono_s REAL, seq INTEGER,
	event_type TEXT, data0 INTEGER, data1 INTEGER,
	data2 INTEGER, data3 INTEGER, aux INTEGER
);`

func newSQLiteSink(path string) (*sqliteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteSink{db: db, tx: tx}, nil
}

func (s *sqliteSink) state(_ binlog.RecordHeader, smp robot.StateSample) error {
	st := smp.States
	_, err := s.tx.Exec(
		`INSERT INTO states VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		smp.TS.EpochS, smp.TS.MonoS, smp.Seq,
		st.IMU.Acc.X, st.IMU.Acc.Y, st.IMU.Acc.Z,
		st.IMU.Gyro.X, st.IMU.Gyro.Y, st.IMU.Gyro.Z,
		st.IMU.Mag.X, st.IMU.Mag.Y, st.IMU.Mag.Z,
		st.Angles.Roll, st.Angles.Pitch, st.Angles.Yaw,
		st.Encoders.E1, st.Encoders.E2, st.Encoders.E3, st.Encoders.E4,
		st.BatteryVoltage,
	)
	return err
}

func (s *sqliteSink) cmd(_ binlog.RecordHeader, smp robot.MotorCommandsSample) error {
	_, err := s.tx.Exec(
		`INSERT INTO commands VALUES (?,?,?,?,?,?,?)`,
		smp.TS.EpochS, smp.TS.MonoS, smp.Seq,
		smp.Motors.M1, smp.Motors.M2, smp.Motors.M3, smp.Motors.M4,
	)
	return err
}

func (s *sqliteSink) event(_ binlog.RecordHeader, smp robot.EventSample) error {
	ev := smp.Event
	_, err := s.tx.Exec(
		`INSERT INTO events VALUES (?,?,?,?,?,?,?,?,?)`,
		smp.TS.EpochS, smp.TS.MonoS, ev.Seq,
		ev.Type.String(), ev.Data0, ev.Data1, ev.Data2, ev.Data3, ev.Aux,
	)
	return err
}

func (s *sqliteSink) close() error {
	if err := s.tx.Commit(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
