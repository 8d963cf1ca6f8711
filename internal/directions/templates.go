package directions

// Ledger template ids the relay creates and exercises choices against.
// These are stable DAML-LF identifiers; the package-id portion is resolved
// by the Ledger JSON API from the package name at submission time, so the
// relay only ever needs the fully-qualified module::entity name.
const (
	tplAttestation              = "Bridge.Attestation:AttestationRequest"
	tplValidatorSelfAttestation = "Bridge.Attestation:ValidatorSelfAttestation"
	tplSignedAttestation        = "Bridge.Attestation:SignedAttestation"
	tplBridgeInRequest          = "Bridge.BridgeIn:BridgeInRequest"
	tplBridgeOutRequest         = "Bridge.BridgeOut:BridgeOutRequest"
	tplWrappedHolding           = "Bridge.Holding:WrappedHolding"
	tplComplianceRegistry       = "Bridge.Compliance:ComplianceRegistry"
	tplTransferFactory          = "Bridge.CIP56:TransferFactory"
	tplTransferInstruction      = "Bridge.CIP56:TransferInstruction"
	tplRedemptionRequest        = "Bridge.Redemption:RedemptionRequest"
	tplRedemptionSettlement     = "Bridge.Redemption:RedemptionEthereumSettlement"
	tplStakingYieldService      = "Bridge.Yield:StakingYieldService"
	tplETHPoolYieldService      = "Bridge.Yield:ETHPoolYieldService"
)

// Choice names exercised against the templates above.
const (
	choiceAttestationComplete      = "Attestation_Complete"
	choiceAttestationSign          = "Attestation_Sign"
	choiceSignedAttestationAddSig  = "SignedAttestation_AddSignature"
	choiceBridgeInComplete         = "BridgeIn_Complete"
	choiceBridgeInCancel           = "BridgeIn_Cancel"
	choiceBridgeOutComplete        = "BridgeOut_Complete"
	choiceTransfer                 = "Transfer"
	choiceAccept                   = "Accept"
	choiceReceiveYield             = "ReceiveYield"
	choiceETHPoolReceiveYield      = "ETHPool_ReceiveYield"
	choiceRedemptionSettle         = "RedemptionRequest_Settle"
)
