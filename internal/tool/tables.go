package tool

const (
	fullRuntime     = "Lsmalitaint/runtime/Taint;"
	compatRuntime   = "Lsmalitaint/runtime/TaintCompat;"
	coverageRuntime = "Lsmalitaint/runtime/Coverage;"
)

var fullTable = [opCount]string{
	OpMoveTaint:       "move/from16",
	OpMoveTaintWide:   "move/16",
	OpMoveResultTaint: "move-result",
	OpUnionTaint:      "or-int",
	OpConst:           "const/16",
	OpConstString:     "const-string",
	OpMoveObject:      "move-object/16",
	OpMoveWide:        "move-wide/16",
	OpInvokeStatic:    "invoke-static",
	OpRangeSuffix:     "/range",

	OpInvokeVirtual:    "invoke-virtual",
	OpInvokeDirect:     "invoke-direct",
	OpInvokeInterface:  "invoke-interface",
	OpMoveResult:       "move-result",
	OpMoveResultWide:   "move-result-wide",
	OpMoveResultObject: "move-result-object",
	OpReturn:           "return",
	OpReturnWide:       "return-wide",
	OpReturnObject:     "return-object",
	OpReturnVoid:       "return-void",

	OpGetParamTaint:     fullRuntime + "->getParamTaint(I)I",
	OpSetParamTaint:     fullRuntime + "->setParamTaint(II)V",
	OpGetReturnTaint:    fullRuntime + "->getReturnTaint()I",
	OpSetReturnTaint:    fullRuntime + "->setReturnTaint(I)V",
	OpGetExceptionTaint: fullRuntime + "->getExceptionTaint()I",
	OpSetExceptionTaint: fullRuntime + "->setExceptionTaint(I)V",

	OpFieldTaintGet:       "iget",
	OpFieldTaintPut:       "iput",
	OpStaticFieldTaintGet: "sget",
	OpStaticFieldTaintPut: "sput",

	// writes the named shadow field when no 4-bit register can carry the label
	OpSetFieldTaint: fullRuntime + "->setFieldTaint(Ljava/lang/Object;Ljava/lang/String;I)V",

	OpSourceLabel: fullRuntime + "->sourceLabel(I)I",
	OpCheckSink:   fullRuntime + "->checkSink(ILjava/lang/String;)V",

	OpGetIntentTaint:        fullRuntime + "->getIntentTaint(Landroid/content/Intent;)I",
	OpAddIntentTaint:        fullRuntime + "->addIntentTaint(Landroid/content/Intent;I)V",
	OpAddIntentTaintObject:  fullRuntime + "->addIntentTaint(Landroid/content/Intent;ILjava/lang/Object;)V",
	OpGetBundleTaint:        fullRuntime + "->getBundleTaint(Landroid/os/BaseBundle;)I",
	OpAddBundleTaint:        fullRuntime + "->addBundleTaint(Landroid/os/BaseBundle;I)V",
	OpAddBundleTaintObject:  fullRuntime + "->addBundleTaint(Landroid/os/BaseBundle;ILjava/lang/Object;)V",
	OpGetParcelTaint:        fullRuntime + "->getParcelTaint(Landroid/os/Parcel;)I",
	OpAddParcelTaint:        fullRuntime + "->addParcelTaint(Landroid/os/Parcel;I)V",
	OpUnionContainerTaint:   fullRuntime + "->unionContainerTaint(Ljava/lang/Object;Ljava/lang/Object;)V",
	OpGetOrderedIntentTaint: fullRuntime + "->getOrderedIntentTaint()I",
	OpSetOrderedIntentTaint: fullRuntime + "->setOrderedIntentTaint(I)V",
	OpGetStartIntentTaint:   fullRuntime + "->getStartIntentTaint(Landroid/content/Intent;)I",

	OpGetArrayTaint: fullRuntime + "->getArrayTaint(Ljava/lang/Object;)I",
	OpAddArrayTaint: fullRuntime + "->addArrayTaint(Ljava/lang/Object;I)V",

	OpCoverageHit: "",
}

// compatOverrides lists operations whose Compat name differs from the Full
// name beyond the runtime class. An empty value marks the operation as
// unsupported.
var compatOverrides = map[Op]string{
	OpAddIntentTaintObject: "",
	OpAddBundleTaintObject: "",
}

var coverageTable = [opCount]string{
	OpConst:         "const/16",
	OpInvokeStatic:  "invoke-static",
	OpRangeSuffix:   "/range",
	OpMoveObject:    "move-object/16",
	OpMoveWide:      "move-wide/16",
	OpMoveTaintWide: "move/16",
	OpCoverageHit:   coverageRuntime + "->hit(I)V",
}
