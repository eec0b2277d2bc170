package advertisement

import (
	"bytes"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/bluenet/pkg/servicedata"
	"github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// keyRecord is what one candidate key last decrypted for a peer.
type keyRecord struct {
	uniqueID     uint32
	hasUniqueID  bool
	crownstoneID uint16
	hasID        bool
	matches      int
}

// Result is the outcome of processing one broadcast.
type Result struct {
	Peer        transport.PeerID
	Mode        session.OperationMode
	Validated   bool
	ReferenceID string

	// Data is the decoded broadcast: decrypted with the validating key, or
	// the plain setup block. It is nil when nothing could be trusted.
	Data *servicedata.ServiceData

	// Duplicate is set when the broadcast repeats the previous one.
	Duplicate bool

	// Skipped is set while the peer is locked out.
	Skipped bool
}

// Validator holds the trust state of one peer. It is safe for concurrent
// use; broadcasts from the same peer are processed one at a time.
type Validator struct {
	peer   transport.PeerID
	config Config
	log    logging.LeveledLogger

	mu          sync.Mutex
	validated   bool
	referenceID string
	mode        session.OperationMode
	records     map[string]*keyRecord
	failures    int
	lockedOut   bool
	lockoutAt   time.Time
	lastBlock   []byte
}

// NewValidator creates an unvalidated validator for peer.
func NewValidator(peer transport.PeerID, config Config) (*Validator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	return &Validator{
		peer:    peer,
		config:  config,
		log:     config.LoggerFactory.NewLogger("validator"),
		records: make(map[string]*keyRecord),
	}, nil
}

// Validated returns whether the peer is trusted and the key reference that
// validated it (empty for setup and DFU).
func (v *Validator) Validated() (bool, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.validated, v.referenceID
}

// LockedOut reports whether the peer is currently skipped.
func (v *Validator) LockedOut() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lockedOut
}

// heldUntil returns when a lock-out ends, or the zero time if the peer is
// not locked out.
func (v *Validator) heldUntil() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.lockedOut {
		return time.Time{}
	}
	return v.lockoutAt.Add(v.config.LockoutDuration)
}

// Reset clears trust, counters and any lock-out. Called when key material
// changes.
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invalidateLocked()
	v.failures = 0
	v.lockedOut = false
	v.lockoutAt = time.Time{}
}

func (v *Validator) invalidateLocked() {
	v.validated = false
	v.referenceID = ""
	v.records = make(map[string]*keyRecord)
	v.lastBlock = nil
}

// Process updates trust with one broadcast. mode is derived from the
// clear envelope.
func (v *Validator) Process(adv transport.RawAdvertisement, sd *servicedata.ServiceData, keys []Candidate) Result {
	mode := servicedata.ModeOf(adv, sd)
	now := v.config.Clock()

	v.mu.Lock()
	defer v.mu.Unlock()

	res := Result{Peer: v.peer, Mode: mode}

	if mode == session.ModeSetup || mode == session.ModeDFU {
		v.validated = true
		v.referenceID = ""
		v.mode = mode
		v.failures = 0
		res.Validated = true
		if mode == session.ModeSetup {
			res.Data = sd
		}
		return res
	}
	if sd == nil || !sd.Valid {
		res.Validated = v.validated
		res.ReferenceID = v.referenceID
		return res
	}

	if v.validated {
		if v.referenceID != "" && mode == v.mode {
			if r, ok := v.confirmLocked(sd, keys, now); ok {
				return r
			}
			v.log.Debugf("%s failed re-confirmation with %s", v.peer, v.referenceID)
		}
		v.invalidateLocked()
	}
	v.mode = mode

	if v.lockedOut {
		if now.Sub(v.lockoutAt) < v.config.LockoutDuration {
			res.Skipped = true
			return res
		}
		v.lockedOut = false
		v.failures = 0
	}

	block := sd.Block()
	if bytes.Equal(block, v.lastBlock) {
		res.Duplicate = true
		return res
	}
	v.lastBlock = block

	return v.searchLocked(sd, keys, now, res)
}

// confirmLocked re-checks a validated peer against its key.
func (v *Validator) confirmLocked(sd *servicedata.ServiceData, keys []Candidate, now time.Time) (Result, bool) {
	res := Result{Peer: v.peer, Mode: v.mode}
	key := findKey(keys, v.referenceID)
	if key == nil {
		return res, false
	}
	dec, err := sd.Decrypt(key, now)
	if err != nil {
		return res, false
	}

	rec := v.record(v.referenceID)
	switch v.check(rec, dec) {
	case checkDuplicate:
		res.Duplicate = true
	case checkMatch:
		v.update(rec, dec)
	default:
		return res, false
	}
	res.Validated = true
	res.ReferenceID = v.referenceID
	res.Data = dec
	return res, true
}

// searchLocked tries every key and promotes the first to reach the
// match threshold.
func (v *Validator) searchLocked(sd *servicedata.ServiceData, keys []Candidate, now time.Time, res Result) Result {
	progressed := false
	fresh := false

	for _, c := range keys {
		rec := v.record(c.ReferenceID)
		dec, err := sd.Decrypt(c.Key, now)
		if err != nil {
			rec.matches = 0
			fresh = true
			continue
		}

		switch v.check(rec, dec) {
		case checkDuplicate:
			continue
		case checkMatch:
			rec.matches++
			progressed = true
		default:
			rec.matches = 0
		}
		fresh = true
		v.update(rec, dec)

		if rec.matches >= v.config.MatchThreshold {
			v.validated = true
			v.referenceID = c.ReferenceID
			v.failures = 0
			v.log.Debugf("%s validated with %s", v.peer, c.ReferenceID)
			res.Validated = true
			res.ReferenceID = c.ReferenceID
			res.Data = dec
			return res
		}
	}

	if !fresh && len(keys) > 0 {
		res.Duplicate = true
		return res
	}
	if progressed {
		v.failures = 0
		return res
	}

	v.failures++
	if v.failures >= v.config.FailureThreshold {
		v.lockedOut = true
		v.lockoutAt = now
		v.log.Warnf("%s locked out after %d broadcasts without a matching key", v.peer, v.failures)
	}
	return res
}

type checkResult int

const (
	checkMismatch checkResult = iota
	checkMatch
	checkDuplicate
)

// check compares a decrypted broadcast against a key's last record.
//
// Operation opcodes 3 and 5 require the validation marker, except on the
// own error packet (data type 1) which has none. Relayed packets describe
// another stone and skip the identifier comparison. The legacy opcode 1
// has no marker and relies on the identifier alone.
func (v *Validator) check(rec *keyRecord, dec *servicedata.ServiceData) checkResult {
	if rec.hasUniqueID && rec.uniqueID == dec.UniqueID {
		return checkDuplicate
	}

	op := dec.Opcode
	switch {
	case op == servicedata.OpcodeOperationWithType || op == servicedata.OpcodeOperation:
		if dec.DataType != servicedata.DataTypeError && dec.Validation != servicedata.ValidationMarker {
			return checkMismatch
		}
		if dec.DataType.IsExternal() {
			return checkMatch
		}
	case op == servicedata.OpcodeLegacy:
	default:
		return checkMismatch
	}

	if rec.hasID && rec.crownstoneID != dec.CrownstoneID {
		return checkMismatch
	}
	return checkMatch
}

func (v *Validator) update(rec *keyRecord, dec *servicedata.ServiceData) {
	rec.uniqueID = dec.UniqueID
	rec.hasUniqueID = true
	if !dec.DataType.IsExternal() {
		rec.crownstoneID = dec.CrownstoneID
		rec.hasID = true
	}
}

func (v *Validator) record(ref string) *keyRecord {
	rec, ok := v.records[ref]
	if !ok {
		rec = &keyRecord{}
		v.records[ref] = rec
	}
	return rec
}

func findKey(keys []Candidate, ref string) []byte {
	for _, c := range keys {
		if c.ReferenceID == ref {
			return c.Key
		}
	}
	return nil
}
