package memory_test

import (
	"encoding/binary"
	"fmt"
	"log"

	"gitlab.com/stephen-fox/machinject/memory"
)

func Example_pointerMakerForX86_64FromUint() {
	pm := memory.PointerMakerForX86_64()

	pointer := pm.FromUint(0x7fff2030a4c0)

	fmt.Printf("0x%x\n", pointer.Bytes())

	// Output:
	// 0xc0a43020ff7f0000
}

func ExamplePointerMaker_FromHexString() {
	pm := memory.PointerMakerForX86_32()

	pointer, err := pm.FromHexString("0x8fe01000", binary.BigEndian)
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println(pointer.HexString())

	// Output:
	// 0x8fe01000
}
