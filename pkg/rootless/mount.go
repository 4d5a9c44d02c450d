package rootless

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/arch-repo-builder/arb/pkg/errs"
)

// MountKind is one of the mount operations the broker sub-action performs
// inside its unshared mount namespace, per spec.md §4.3's broker bullet.
type MountKind string

const (
	MountProc    MountKind = "proc"
	MountSys     MountKind = "sys"
	MountDev     MountKind = "dev"
	MountDevpts  MountKind = "devpts"
	MountShm     MountKind = "shm"
	MountRun     MountKind = "run"
	MountTmp     MountKind = "tmp"
	MountBind    MountKind = "bind"
	MountOverlay MountKind = "overlay"
)

// MountSpec is one entry in the broker's payload.
type MountSpec struct {
	Kind     MountKind
	Source   string
	Target   string
	FSType   string
	Flags    uintptr
	Data     string
	ReadOnly bool
}

// Payload is the serialized broker message: the mounts to perform, then
// the next applet to exec with its own argv.
type Payload struct {
	Mounts     []MountSpec
	NextApplet string
	NextArgv   []string
}

// WritePayload writes a length-prefixed JSON-encoded Payload to w, the
// wire format the parent uses to hand work to the broker/read-pkgbuilds
// sub-actions over a pipe.
func WritePayload(w io.Writer, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errs.Wrap(err, errs.Logic, "marshaling broker payload")
	}

	var lenBuf [4]byte

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.Wrap(err, errs.IO, "writing payload length")
	}

	if _, err := w.Write(body); err != nil {
		return errs.Wrap(err, errs.IO, "writing payload body")
	}

	return nil
}

// ReadPayload reads one length-prefixed JSON Payload from r.
func ReadPayload(r io.Reader) (Payload, error) {
	var lenBuf [4]byte

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Payload{}, errs.Wrap(err, errs.IO, "reading payload length")
	}

	n := binary.BigEndian.Uint32(lenBuf[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Payload{}, errs.Wrap(err, errs.IO, "reading payload body")
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Payload{}, errs.Wrap(err, errs.Logic, "unmarshaling broker payload")
	}

	return p, nil
}

// ApplyMounts performs each MountSpec in order inside the broker's
// already-unshared mount namespace, per the base/overlay root mount set
// spec.md §4.4 describes.
func ApplyMounts(specs []MountSpec) error {
	for _, spec := range specs {
		if err := os.MkdirAll(spec.Target, 0o755); err != nil {
			return errs.Wrap(err, errs.IO, "creating mount target "+spec.Target)
		}

		if err := applyOne(spec); err != nil {
			return errs.Wrapf(err, errs.Mount, "mounting %s onto %s", spec.Kind, spec.Target)
		}
	}

	return nil
}

func applyOne(spec MountSpec) error {
	switch spec.Kind {
	case MountProc:
		return unix.Mount("proc", spec.Target, "proc", 0, "")
	case MountSys:
		return unix.Mount("sysfs", spec.Target, "sysfs", unix.MS_RDONLY, "")
	case MountDev:
		return unix.Mount("devtmpfs", spec.Target, "devtmpfs", 0, "")
	case MountDevpts:
		return unix.Mount("devpts", spec.Target, "devpts", 0, "newinstance,ptmxmode=0666,mode=0620")
	case MountShm:
		return unix.Mount("tmpfs", spec.Target, "tmpfs", 0, "mode=1777")
	case MountRun:
		return unix.Mount("tmpfs", spec.Target, "tmpfs", 0, "mode=0755")
	case MountTmp:
		return unix.Mount("tmpfs", spec.Target, "tmpfs", 0, "mode=1777")
	case MountBind:
		if err := unix.Mount(spec.Source, spec.Target, "", unix.MS_BIND, ""); err != nil {
			return err
		}

		if spec.ReadOnly {
			return unix.Mount("", spec.Target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, "")
		}

		return nil
	case MountOverlay:
		return unix.Mount("overlay", spec.Target, "overlay", 0, spec.Data)
	default:
		return errs.Newf(errs.Config, "unrecognized mount kind %q", spec.Kind)
	}
}
