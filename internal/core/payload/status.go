package payload

// Fixture is one part-holding slot inside a status snapshot. Pointer
// fields render as null when the underlying tag is missing or blank
type Fixture struct {
	FixtureID          *int    `json:"FixtureID"`
	ResetableGoodParts int     `json:"Resetable_GoodParts"`
	ResetableBadParts  int     `json:"Resetable_BadParts"`
	MachineRunning     *bool   `json:"Machine_Running"`
	MachineFaulted     *bool   `json:"Machine_Faulted"`
	SmartPartInProg    *bool   `json:"Smart_Part_In_Progress"`
	PartNumber         *string `json:"Part_Number"`
	SerialNumber1      *string `json:"Serial_Number_1"`
	SerialNumber2      *string `json:"Serial_Number_2"`
	SerialNumber3      *string `json:"Serial_Number_3"`
	SerialNumber4      *string `json:"Serial_Number_4"`
	SerialNumber5      *string `json:"Serial_Number_5"`
	UserID             *string `json:"User_ID"`
	UserLevel          any     `json:"User_Level"` // resolved display name, else the raw level
	AndonActive        *int    `json:"ANDON_Active"`
	RejectCode         any     `json:"Reject_Code"` // resolved display name, else the raw code
}

// StatusSide is one data entry: the whole station for flat stations,
// one side for turntables
type StatusSide struct {
	SideID     *int      `json:"SideID"`
	CycleTime  *float64  `json:"CycleTime"`
	TotalParts *int      `json:"TotalParts"`
	Fixtures   []Fixture `json:"fixtures"`
}

// StatusEnvelope is the per-station status snapshot. This envelope uses
// lowercase keys; the production envelopes use uppercase. Both are
// consumed as-is downstream
type StatusEnvelope struct {
	Version   string       `json:"version"`
	Timestamp string       `json:"timestamp"`
	Data      []StatusSide `json:"data"`
}
