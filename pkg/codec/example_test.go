package codec_test

import (
	"bytes"
	"fmt"
	"log"

	"github.com/ssargent/stdfconv/pkg/codec"
)

// ExampleEncoder_Write writes the file attributes record every STDF file starts with
func ExampleEncoder_Write() {
	var out bytes.Buffer
	enc := codec.NewEncoder(&out)

	err := enc.Write(codec.FAR, codec.Values{
		"CPU_TYPE": codec.Int(2),
		"STDF_VER": codec.Int(4),
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("% x\n", out.Bytes())
	// Output:
	// 02 00 00 0a 02 04
}

// ExampleDecode reads a record back using its registry definition
func ExampleDecode() {
	encoded, err := codec.EncodeRecord(codec.PIR, codec.Values{
		"HEAD_NUM": codec.Text("1"),
		"SITE_NUM": codec.Int(4),
	})
	if err != nil {
		log.Fatal(err)
	}

	raw, err := codec.ReadRecord(bytes.NewReader(encoded))
	if err != nil {
		log.Fatal(err)
	}
	def, _ := raw.Def()
	values, err := codec.Decode(def, raw.Payload)
	if err != nil {
		log.Fatal(err)
	}

	for _, fd := range def.Fields() {
		fmt.Printf("%s=%s\n", fd.Name, values[fd.Name])
	}
	// Output:
	// HEAD_NUM=1
	// SITE_NUM=4
}
