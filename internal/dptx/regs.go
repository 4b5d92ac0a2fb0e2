package dptx

// APB configuration registers.
const (
	regAPBCtrl     = 0x00
	regKeepAlive   = 0x18
	regVerL        = 0x1c
	regVerH        = 0x20
	regVerLibL     = 0x24
	regVerLibH     = 0x28
	regSWClkL      = 0x3c
	regSWClkH      = 0x40
	regSWEvents0   = 0x44
	regAPBIntMask  = 0x6c
	regAPBStatMask = 0x70
)

// regAPBCtrl bits. Asserting XT_RESET holds the firmware µCPU in
// reset; the IRAM/DRAM path bits route APB writes into the firmware
// memories during load.
const (
	apbXTReset  = 1 << 0
	apbDRAMPath = 1 << 1
	apbIRAMPath = 1 << 2
)

// Firmware memory windows.
const (
	addrIMEM = 0x10000
	addrDMEM = 0x20000
	// AddrPHYAFE is the base of the PHY analog front-end register
	// window reached through the register read/write commands.
	AddrPHYAFE = 0x80000
)

// Source clock-and-reset (CAR) registers.
const (
	regSourceHDTXCAR   = 0x0900
	regSourceDPTXCAR   = 0x0904
	regSourcePHYCAR    = 0x0908
	regSourcePktCAR    = 0x0918
	regSourceAIFCAR    = 0x091c
	regSourceCipherCAR = 0x0920
	regSourceCryptoCAR = 0x0924
)

// regSourceDPTXCAR bits.
const (
	cfgDPTXVIFClkEn       = 1 << 0
	cfgDPTXVIFClkRstnEn   = 1 << 1
	dptxSysClkEn          = 1 << 2
	dptxSysClkRstnEn      = 1 << 3
	sourceAuxSysClkEn     = 1 << 4
	sourceAuxSysClkRstnEn = 1 << 5
	dptxPhyCharClkEn      = 1 << 6
	dptxPhyCharRstnEn     = 1 << 7
	dptxPhyDataClkEn      = 1 << 8
	dptxPhyDataRstnEn     = 1 << 9
	dptxFrmrDataClkEn     = 1 << 10
	dptxFrmrDataClkRstnEn = 1 << 11
)

// regSourcePHYCAR bits.
const (
	sourcePhyClkEn  = 1 << 0
	sourcePhyRstnEn = 1 << 1
)

// regSourcePktCAR bits.
const (
	sourcePktDataClkEn  = 1 << 0
	sourcePktDataRstnEn = 1 << 1
	sourcePktSysClkEn   = 1 << 2
	sourcePktSysRstnEn  = 1 << 3
)

// regSourceAIFCAR bits.
const (
	sourceAifClkEn     = 1 << 0
	sourceAifClkRstnEn = 1 << 1
	sourceAifSysClkEn  = 1 << 2
	sourceAifSysRstnEn = 1 << 3
	spdifCDRClkEn      = 1 << 4
	spdifCDRClkRstnEn  = 1 << 5
)

// regSourceCipherCAR bits.
const (
	sourceCipherSysClkEn      = 1 << 0
	sourceCipherSysClkRstnEn  = 1 << 1
	sourceCipherCharClkEn     = 1 << 2
	sourceCipherCharClkRstnEn = 1 << 3
)

// regSourceCryptoCAR bits.
const (
	sourceCryptoSysClkEn   = 1 << 0
	sourceCryptoSysClkRstn = 1 << 1
)

// Video interface registers.
const (
	regBndHsync2Vsync     = 0x0b00
	regHsync2VsyncPolCtrl = 0x0b10

	vifBypassInterlace = 1 << 13
)

// DP framer and stream registers.
const (
	regDPFramerGlobalConfig = 0x2200
	regDPSWReset            = 0x2204
	regDPFramerTU           = 0x2208
	regDPFramerPxlRepr      = 0x220c
	regDPFramerSP           = 0x2210
	regDPVCTableBase        = 0x2218
	regDPVBID               = 0x2258
	regDPFrontBackPorch     = 0x2270
	regDPByteCount          = 0x2274
	regMSAHorizontal0       = 0x2280
	regMSAHorizontal1       = 0x2284
	regMSAVertical0         = 0x2288
	regMSAVertical1         = 0x228c
	regMSAMisc              = 0x2290
	regStreamConfig         = 0x2294
	regDPHorizontal         = 0x22a4
	regDPVertical0          = 0x22a8
	regDPVertical1          = 0x22ac
)

func regDPVCTable(n uint32) uint32 { return regDPVCTableBase + (n << 2) }

// regDPFramerTU fields.
const (
	tuCntRstEn = 1 << 15
	// tuSizeBase is the initial TU size register value for the
	// transfer-unit search; the first candidate evaluated is
	// tuSizeBase+2.
	tuSizeBase = 30
	tuSizeMax  = 64
)

// regDPFramerSP bits.
const (
	dpFramerSPVSP = 1 << 0
	dpFramerSPHSP = 1 << 1
)

// Bit-depth codes for regDPFramerPxlRepr.
const (
	bcs6  = 0x7
	bcs8  = 0x1
	bcs10 = 0x2
	bcs12 = 0x3
	bcs16 = 0x4
)

// Mailbox module IDs.
const (
	ModuleIDDPTX    = 0x01
	ModuleIDGeneral = 0x0a
)

// General module opcodes.
const (
	opGeneralMainControl   = 0x01
	opGeneralTestEcho      = 0x02
	opGeneralWriteRegister = 0x05
	opGeneralWriteField    = 0x06
	opGeneralReadRegister  = 0x07
	opGeneralGetHPDState   = 0x11
)

// DP TX module opcodes.
const (
	opDPTXSetPowerMng         = 0x00
	opDPTXSetHostCapabilities = 0x01
	opDPTXGetEDID             = 0x02
	opDPTXReadDPCD            = 0x03
	opDPTXWriteDPCD           = 0x04
	opDPTXEnableEvent         = 0x05
	opDPTXWriteRegister       = 0x06
	opDPTXReadRegister        = 0x07
	opDPTXWriteField          = 0x08
	opDPTXTrainingControl     = 0x09
	opDPTXReadEvent           = 0x0a
	opDPTXReadLinkStat        = 0x0b
	opDPTXSetVideo            = 0x0c
	opDPTXHPDState            = 0x11
	opDPTXAdjustLT            = 0x12
)

// Firmware main-control states.
const (
	fwStandby = 0
	fwActive  = 1
)

// Host capability payload fields.
const (
	scramblerEn       = 1 << 4
	voltageLevel2     = 2
	preEmphasisLevel3 = 3
	pts1              = 1 << 0
	pts2              = 1 << 1
	pts3              = 1 << 2
	pts4              = 1 << 3
	fastLTNotSupport  = 0
	laneMappingNormal = 0x1b
	laneMappingFlip   = 0xe4
	enhancedFraming   = 1
)

// Training control values.
const (
	linkTrainingRun = 0x1
)

// Training event flags (second byte of the READ_EVENT response).
const (
	fullLTStarted       = 1 << 0
	fastLTStarted       = 1 << 1
	clkRecoveryFinished = 1 << 2
	eqPhaseFinished     = 1 << 3
	fastLTFinished      = 1 << 4
	clkRecoveryFailed   = 1 << 5
	eqPhaseFailed       = 1 << 6
	fastLTFailed        = 1 << 7
)

// Event-enable payload flags.
const (
	eventEnableHPD      = 1 << 0
	eventEnableTraining = 1 << 1
)

// dpcdLane01Status is the DPCD register echoed by the adjust-link-
// training response.
const dpcdLane01Status = 0x202
