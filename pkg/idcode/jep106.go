package idcode

import "fmt"

// Manufacturer is a JEP106 entry.
type Manufacturer struct {
	Bank uint8 // number of 0x7F continuation codes
	ID   uint8 // 7-bit identity code, parity stripped
	Name string
}

func (m Manufacturer) String() string {
	if m.Name == "" {
		return fmt.Sprintf("unknown (bank %d, id 0x%02x)", m.Bank+1, m.ID)
	}
	return m.Name
}

type jep106Key struct {
	bank, id uint8
}

// jep106 holds the manufacturers commonly found on JTAG chains.
var jep106 = map[jep106Key]string{
	{0, 0x01}:  "AMD",
	{0, 0x04}:  "Fujitsu",
	{0, 0x09}:  "Intel",
	{0, 0x0E}:  "Freescale (Motorola)",
	{0, 0x15}:  "NXP (Philips)",
	{0, 0x17}:  "Texas Instruments",
	{0, 0x1F}:  "Atmel",
	{0, 0x20}:  "STMicroelectronics",
	{0, 0x21}:  "Lattice",
	{0, 0x49}:  "Xilinx",
	{0, 0x6E}:  "Altera",
	{4, 0x3B}:  "ARM Ltd",
	{4, 0x72}:  "Espressif",
	{8, 0x0D}:  "Gowin",
	{12, 0x1A}: "Anlogic",
}

// LookupManufacturer resolves a JEP106 bank and identity code. The bool
// reports whether the code is in the table.
func LookupManufacturer(bank, id uint8) (Manufacturer, bool) {
	name, ok := jep106[jep106Key{bank, id}]
	return Manufacturer{Bank: bank, ID: id, Name: name}, ok
}
