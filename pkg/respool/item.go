package respool

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

type ItemType string

const (
	ItemTypeGeneric ItemType = "generic"
	ItemTypeNumeric ItemType = "numeric"
	ItemTypeIP      ItemType = "ip"
	ItemTypeIPPort  ItemType = "ip_port"
	ItemTypeMember  ItemType = "member"
)

// Item is one allocatable unit of a pool. Its key is derived from its
// value only, and identifies it inside the pool: two items with the same
// key are the same item whatever their other fields.
type Item interface {
	Key() string
	Name() string
	Prefix() string
	// FullName is the name under which the item is registered in its pool
	FullName() string
	Value() any
	String() string
	Acquired() time.Time
	Encode() EncodedItem
}

// EncodedItem is the plain form of an item, as stored in the cache
type EncodedItem struct {
	Type      ItemType        `json:"type"`
	Key       string          `json:"key"`
	Name      string          `json:"name"`
	Prefix    string          `json:"prefix"`
	Value     json.RawMessage `json:"value"`
	Template  string          `json:"template,omitempty"`
	LocalDir  string          `json:"localDir,omitempty"`
	RemoteDir string          `json:"remoteDir,omitempty"`
	Docker    string          `json:"docker,omitempty"`
	Acquired  *time.Time      `json:"acquired,omitempty"`
}

type itemMeta struct {
	name     string
	prefix   string
	acquired time.Time
}

func newItemMeta(key, name, prefix string) itemMeta {
	if name == "" {
		name = key
	}
	return itemMeta{
		name:   name,
		prefix: prefix,
	}
}

func (m itemMeta) Name() string {
	return m.name
}

func (m itemMeta) Prefix() string {
	return m.prefix
}

func (m itemMeta) FullName() string {
	return m.prefix + m.name
}

func (m itemMeta) Acquired() time.Time {
	return m.acquired
}

func (m *itemMeta) setAcquired(t time.Time) {
	m.acquired = t
}

func (m itemMeta) encode(t ItemType, key string, value any) EncodedItem {
	raw, _ := json.Marshal(value)
	e := EncodedItem{
		Type:   t,
		Key:    key,
		Name:   m.name,
		Prefix: m.prefix,
		Value:  raw,
	}
	if !m.acquired.IsZero() {
		e.Acquired = lo.ToPtr(m.acquired.UTC())
	}
	return e
}

func (e EncodedItem) meta() itemMeta {
	m := newItemMeta(e.Key, e.Name, e.Prefix)
	if e.Acquired != nil {
		m.acquired = *e.Acquired
	}
	return m
}

// GenericItem is an opaque string
type GenericItem struct {
	itemMeta
	value string
}

func NewGenericItem(value, name, prefix string) *GenericItem {
	return &GenericItem{
		itemMeta: newItemMeta(value, name, prefix),
		value:    value,
	}
}

func (i *GenericItem) Key() string    { return i.value }
func (i *GenericItem) Value() any     { return i.value }
func (i *GenericItem) String() string { return i.value }

func (i *GenericItem) Encode() EncodedItem {
	return i.encode(ItemTypeGeneric, i.Key(), i.value)
}

// NumericItem is an integer, optionally rendered through a template where
// `{}` stands for the number
type NumericItem struct {
	itemMeta
	value    int
	template string
}

func NewNumericItem(value int, template, name, prefix string) *NumericItem {
	return &NumericItem{
		itemMeta: newItemMeta(strconv.Itoa(value), name, prefix),
		value:    value,
		template: template,
	}
}

func (i *NumericItem) Key() string { return strconv.Itoa(i.value) }
func (i *NumericItem) Value() any  { return i.value }

func (i *NumericItem) Int() int {
	return i.value
}

func (i *NumericItem) String() string {
	if i.template == "" {
		return i.Key()
	}
	return strings.ReplaceAll(i.template, "{}", i.Key())
}

func (i *NumericItem) Encode() EncodedItem {
	e := i.encode(ItemTypeNumeric, i.Key(), i.value)
	e.Template = i.template
	return e
}

// IPItem is a single address
type IPItem struct {
	itemMeta
	addr netip.Addr
}

func NewIPItem(addr netip.Addr, name, prefix string) *IPItem {
	return &IPItem{
		itemMeta: newItemMeta(addr.String(), name, prefix),
		addr:     addr,
	}
}

func (i *IPItem) Key() string      { return i.addr.String() }
func (i *IPItem) Value() any       { return i.addr }
func (i *IPItem) String() string   { return i.Key() }
func (i *IPItem) Addr() netip.Addr { return i.addr }

func (i *IPItem) Encode() EncodedItem {
	return i.encode(ItemTypeIP, i.Key(), i.addr.String())
}

// IPPort is the raw value of ip_port and member items
type IPPort struct {
	Addr netip.Addr `json:"ip"`
	Port int        `json:"port"`
}

func (p IPPort) String() string {
	return fmt.Sprintf("%s:%d", p.Addr, p.Port)
}

// IPPortItem is an address and a port, keyed as "ip:port"
type IPPortItem struct {
	itemMeta
	value IPPort
}

func NewIPPortItem(value IPPort, name, prefix string) *IPPortItem {
	return &IPPortItem{
		itemMeta: newItemMeta(value.String(), name, prefix),
		value:    value,
	}
}

func (i *IPPortItem) Key() string      { return i.value.String() }
func (i *IPPortItem) Value() any       { return i.value }
func (i *IPPortItem) String() string   { return i.Key() }
func (i *IPPortItem) Addr() netip.Addr { return i.value.Addr }
func (i *IPPortItem) Port() int        { return i.value.Port }

func (i *IPPortItem) Encode() EncodedItem {
	return i.encode(ItemTypeIPPort, i.Key(), i.value)
}

// MemberItem is an ip:port endpoint with the directories and the worker
// label assigned to it. They are not part of the identity of the item.
type MemberItem struct {
	IPPortItem
	LocalDir  string
	RemoteDir string
	Docker    string
}

func NewMemberItem(value IPPort, name, prefix string) *MemberItem {
	return &MemberItem{
		IPPortItem: *NewIPPortItem(value, name, prefix),
	}
}

// format replaces `{key}` with the key of the item, colons turned into
// hyphens, and every `{token}` with its value
func (i *MemberItem) format(template string, tokens map[string]string) string {
	names := lo.Keys(tokens)
	slices.Sort(names)

	pairs := []string{"{key}", strings.ReplaceAll(i.Key(), ":", "-")}
	for _, n := range names {
		if n == "key" {
			continue
		}
		pairs = append(pairs, "{"+n+"}", tokens[n])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func (i *MemberItem) SetLocalDir(template string, tokens map[string]string) {
	i.LocalDir = i.format(template, tokens)
}

func (i *MemberItem) SetRemoteDir(template string, tokens map[string]string) {
	i.RemoteDir = i.format(template, tokens)
}

func (i *MemberItem) SetDocker(template string, tokens map[string]string) {
	i.Docker = i.format(template, tokens)
}

func (i *MemberItem) Encode() EncodedItem {
	e := i.encode(ItemTypeMember, i.Key(), i.value)
	e.LocalDir = i.LocalDir
	e.RemoteDir = i.RemoteDir
	e.Docker = i.Docker
	return e
}

type itemDecoder func(e EncodedItem) (Item, error)

var itemDecoders = map[ItemType]itemDecoder{
	ItemTypeGeneric: func(e EncodedItem) (Item, error) {
		var v string
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, NewDecodeError(e.Key, fmt.Sprintf("invalid value: %v", err))
		}
		return &GenericItem{itemMeta: e.meta(), value: v}, nil
	},
	ItemTypeNumeric: func(e EncodedItem) (Item, error) {
		var v int
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, NewDecodeError(e.Key, fmt.Sprintf("invalid value: %v", err))
		}
		return &NumericItem{itemMeta: e.meta(), value: v, template: e.Template}, nil
	},
	ItemTypeIP: func(e EncodedItem) (Item, error) {
		var v string
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, NewDecodeError(e.Key, fmt.Sprintf("invalid value: %v", err))
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, NewDecodeError(e.Key, err.Error())
		}
		return &IPItem{itemMeta: e.meta(), addr: addr}, nil
	},
	ItemTypeIPPort: func(e EncodedItem) (Item, error) {
		v, err := decodeIPPort(e)
		if err != nil {
			return nil, err
		}
		return &IPPortItem{itemMeta: e.meta(), value: v}, nil
	},
	ItemTypeMember: func(e EncodedItem) (Item, error) {
		v, err := decodeIPPort(e)
		if err != nil {
			return nil, err
		}
		return &MemberItem{
			IPPortItem: IPPortItem{itemMeta: e.meta(), value: v},
			LocalDir:   e.LocalDir,
			RemoteDir:  e.RemoteDir,
			Docker:     e.Docker,
		}, nil
	},
}

func decodeIPPort(e EncodedItem) (IPPort, error) {
	var v IPPort
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return IPPort{}, NewDecodeError(e.Key, fmt.Sprintf("invalid value: %v", err))
	}
	if !v.Addr.IsValid() {
		return IPPort{}, NewDecodeError(e.Key, "missing ip")
	}
	if v.Port < 0 || v.Port > MaxPort {
		return IPPort{}, NewDecodeError(e.Key, fmt.Sprintf("invalid port %d", v.Port))
	}
	return v, nil
}

// DecodeItem rebuilds the item described by e. It never guesses: an
// unknown type, a missing value or a value not matching the encoded key
// are all reported as a DecodeError.
func DecodeItem(e EncodedItem) (Item, error) {
	decode, ok := itemDecoders[e.Type]
	if !ok {
		return nil, NewDecodeError(e.Key, fmt.Sprintf("%v: %q", ErrUnknownType, e.Type))
	}
	if len(e.Value) == 0 || string(e.Value) == "null" {
		return nil, NewDecodeError(e.Key, "missing value")
	}

	item, err := decode(e)
	if err != nil {
		return nil, err
	}
	if item.Key() != e.Key {
		return nil, NewDecodeError(e.Key, fmt.Sprintf("value %s does not match the key", item.Key()))
	}
	return item, nil
}

// UnmarshalItem decodes an item from its JSON form
func UnmarshalItem(key string, data []byte) (Item, error) {
	var e EncodedItem
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, NewDecodeError(key, err.Error())
	}
	return DecodeItem(e)
}

func marshalItem(item Item) ([]byte, error) {
	return json.Marshal(item.Encode())
}
