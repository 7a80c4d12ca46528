package serial

import (
	"bytes"
	"testing"

	"github.com/mkowalik/go-can-arbiter/internal/can"
)

func dataFrame(t *testing.T, id can.ID, payload ...byte) can.Frame {
	t.Helper()
	d, err := can.NewData(payload)
	if err != nil {
		t.Fatalf("NewData: %v", err)
	}
	return can.NewDataFrame(id, d)
}

func TestSLCAN_Encode(t *testing.T) {
	codec := Codec{}

	remote, err := can.NewRemoteFrame(can.MustStandard(0x7FF), 4)
	if err != nil {
		t.Fatalf("NewRemoteFrame: %v", err)
	}
	extRemote, err := can.NewRemoteFrame(can.MustExtended(0x1FFFFFFF), 0)
	if err != nil {
		t.Fatalf("NewRemoteFrame: %v", err)
	}

	cases := []struct {
		fr   can.Frame
		want string
	}{
		{dataFrame(t, can.MustStandard(0x123), 0xAB, 0xCD), "t1232ABCD\r"},
		{dataFrame(t, can.MustStandard(0x001)), "t0010\r"},
		{dataFrame(t, can.MustExtended(0x12ABCDEF), 0x01), "T12ABCDEF101\r"},
		{remote, "r7FF4\r"},
		{extRemote, "R1FFFFFFF0\r"},
	}
	for _, tc := range cases {
		if got := string(codec.Encode(tc.fr)); got != tc.want {
			t.Errorf("Encode(%v) = %q, want %q", tc.fr, got, tc.want)
		}
	}
}

func TestSLCAN_RoundTrip_Chunked(t *testing.T) {
	codec := Codec{}

	remote, err := can.NewRemoteFrame(can.MustStandard(0x100), 2)
	if err != nil {
		t.Fatalf("NewRemoteFrame: %v", err)
	}
	want := []can.Frame{
		dataFrame(t, can.MustStandard(0x1E5), 0x34, 0x7B, 0x70, 0xD7, 0x94, 0x10, 0x0D, 0xF7),
		dataFrame(t, can.MustExtended(0x0123456), 0x9A, 0xBC),
		remote,
		dataFrame(t, can.MustStandard(0x7FF)),
	}

	stream := make([]byte, 0, 128)
	for _, fr := range want {
		stream = append(stream, codec.Encode(fr)...)
	}

	var buf bytes.Buffer
	got := make([]can.Frame, 0, len(want))

	// Feed in irregular small chunks to stress partial-line buffering.
	chunkSizes := []int{1, 2, 3, 5, 7}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n

		if err := codec.DecodeStream(&buf, func(fr can.Frame) {
			got = append(got, fr)
		}); err != nil {
			t.Fatalf("DecodeStream error: %v", err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d mismatch\n got  %v\n want %v", i, got[i], want[i])
		}
	}
}

func TestSLCAN_DecodeStream_SkipsMalformed(t *testing.T) {
	codec := Codec{}
	var buf bytes.Buffer

	// Garbage command, bad dlc digit, short extended id, dlc/data mismatch,
	// remote with trailing data, adapter ACK, then one good frame.
	buf.WriteString("x123\r")
	buf.WriteString("t1239\r")
	buf.WriteString("T12AB1\r")
	buf.WriteString("t1232AB\r")
	buf.WriteString("r1002FF\r")
	buf.WriteByte(0x06)
	buf.WriteByte('\r')
	buf.WriteString("t00101A\r")

	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) {
		got = append(got, fr)
	}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(got))
	}
	want := dataFrame(t, can.MustStandard(0x001), 0x1A)
	if got[0] != want {
		t.Fatalf("got %v, want %v", got[0], want)
	}
}

func TestSLCAN_DecodeStream_DiscardsUnboundedGarbage(t *testing.T) {
	codec := Codec{}
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{'A'}, rxGarbageLimit+1))

	if err := codec.DecodeStream(&buf, func(can.Frame) {
		t.Fatal("unexpected frame from garbage")
	}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("accumulator not reset, %d bytes left", buf.Len())
	}
}

func TestSLCAN_DecodeStream_KeepsPartialLine(t *testing.T) {
	codec := Codec{}
	var buf bytes.Buffer
	buf.WriteString("t1232AB")

	if err := codec.DecodeStream(&buf, func(can.Frame) {
		t.Fatal("frame emitted before CR")
	}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	buf.WriteString("CD\r")

	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) {
		got = append(got, fr)
	}); err != nil {
		t.Fatalf("DecodeStream error: %v", err)
	}
	want := dataFrame(t, can.MustStandard(0x123), 0xAB, 0xCD)
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %v, want [%v]", got, want)
	}
}

func BenchmarkSLCANEncode(b *testing.B) {
	codec := Codec{}
	fr := can.NewDataFrame(can.MustStandard(0x123), can.DataOf(1, 2, 3, 4, 5, 6, 7, 8))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = codec.Encode(fr)
	}
}
